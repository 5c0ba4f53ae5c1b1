package composables

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/microplan/pkg/constants"
)

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the logger from the context.
// If the logger is not found, the function will panic.
func UseLogger(ctx context.Context) *logrus.Entry {
	logger := ctx.Value(constants.LoggerKey)
	if logger == nil {
		panic("logger not found")
	}
	return logger.(*logrus.Entry)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, requestID)
}

// UseRequestID returns the request id from the context, or "" when absent.
func UseRequestID(ctx context.Context) string {
	v := ctx.Value(constants.RequestIDKey)
	if v == nil {
		return ""
	}
	return v.(string)
}
