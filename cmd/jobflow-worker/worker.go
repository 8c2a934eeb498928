package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/jobflow/pkg/cmd"
)

var errNoEventBus = errors.New("consuming commands requires an event bus")

type Worker struct {
	runtime         *cmd.Runtime
	consumeCommands bool
	logger          *slog.Logger
}

func NewWorker(runtime *cmd.Runtime, consumeCommands bool, logger *slog.Logger) *Worker {
	return &Worker{
		runtime:         runtime,
		consumeCommands: consumeCommands,
		logger:          logger,
	}
}

// Run starts the engine and blocks until SIGINT or SIGTERM.
func (w *Worker) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return w.run(ctx)
}

func (w *Worker) run(ctx context.Context) error {
	eng := w.runtime.Engine

	if w.consumeCommands {
		if w.runtime.EventBus == nil {
			return errNoEventBus
		}

		err := eng.ConsumeCommands(ctx, w.runtime.EventBus)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

			return err
		}
	}

	err := eng.Start(ctx)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()

	w.logger.InfoContext(context.Background(), "Shutting down worker...")
	eng.Stop()

	return nil
}
