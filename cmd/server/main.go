package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/microplan/internal/server"
	"github.com/iota-uz/microplan/modules/planning"
	"github.com/iota-uz/microplan/pkg/composables"
	"github.com/iota-uz/microplan/pkg/configuration"
	"github.com/iota-uz/microplan/pkg/eventbus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	bus := eventbus.NewEventPublisher(logger)

	baseCtx := composables.WithPool(context.Background(), pool)
	module := planning.NewModule(bus)
	module.RegisterSubscribers(baseCtx, bus, logger)

	srv := server.New(&server.Options{
		Logger:        logger,
		Configuration: conf,
		Pool:          pool,
	})

	addr := fmt.Sprintf(":%d", conf.ServerPort)
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("planning engine listening")
		errCh <- srv.Start(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown failed")
		}
	}
	configuration.Use().Unload()
}
