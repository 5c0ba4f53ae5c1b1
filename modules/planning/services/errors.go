package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/iota-uz/microplan/pkg/serrors"
)

// Stable error codes of the planning service boundary. Validation-kind codes
// are returned before any write happens; PLAN_UNIQUENESS surfaces a commit
// time race and is retryable; PLAN_INTEGRITY means corrupted data and is
// fatal.
const (
	CodeNoTenant       = "PLAN_NO_TENANT"
	CodeInvalidBody    = "PLAN_INVALID_BODY"
	CodeNotFound       = "PLAN_NOT_FOUND"
	CodeCycle          = "PLAN_CYCLE"
	CodeKindMismatch   = "PLAN_KIND_MISMATCH"
	CodeExclusivity    = "PLAN_EXCLUSIVITY"
	CodeScope          = "PLAN_SCOPE"
	CodeEmptyScope     = "PLAN_EMPTY_SCOPE"
	CodeOutOfScope     = "PLAN_OUT_OF_SCOPE"
	CodeUniqueness     = "PLAN_UNIQUENESS"
	CodeAlreadyDeleted = "PLAN_ALREADY_DELETED"
	CodeIntegrity      = "PLAN_INTEGRITY"
	CodeInvalidPath    = "PLAN_INVALID_PATH"
	CodeValidation     = "PLAN_VALIDATION"
	CodeInternal       = "PLAN_INTERNAL"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func newValidationError(fields serrors.ValidationErrors) *ServiceError {
	return &ServiceError{
		Status:  http.StatusUnprocessableEntity,
		Code:    CodeValidation,
		Message: "validation failed",
		Cause:   fields,
	}
}

// FieldErrors extracts the per-field failures carried by a validation
// ServiceError so callers can render all of them at once. Returns nil when
// err carries none.
func FieldErrors(err error) serrors.ValidationErrors {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return nil
	}
	var fields serrors.ValidationErrors
	if !errors.As(svcErr.Cause, &fields) {
		return nil
	}
	return fields
}

// IsCode reports whether err is a ServiceError with the given code.
func IsCode(err error, code string) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Code == code
}
