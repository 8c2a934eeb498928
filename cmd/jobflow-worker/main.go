// Package main provides the jobflow worker: the task worker pool, the timer
// sweeper and, when an event bus is configured, the command consumer.
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/jobflow/pkg/cmd"
	"github.com/dukex/jobflow/pkg/engine"
	"github.com/dukex/jobflow/pkg/log"
)

func main() {
	defaults := engine.DefaultConfig()

	flags := append(cmd.EngineFlags(),
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID prefix (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of concurrent task workers",
			Value:   defaults.Workers,
			Sources: cli.EnvVars("WORKERS"),
		},
		&cli.DurationFlag{
			Name:    "poll-timeout",
			Usage:   "How long an idle worker waits for a task",
			Value:   defaults.PollTimeout,
			Sources: cli.EnvVars("POLL_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "consume-commands",
			Usage:   "Consume start and signal commands from the event bus",
			Sources: cli.EnvVars("CONSUME_COMMANDS"),
		},
	)

	command := &cli.Command{
		Name:                  "jobflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Run the workflow worker pool and timer sweeper",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("jobflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing jobflow worker")

			config := defaults
			config.WorkerIDPrefix = workerID
			config.Workers = command.Int("workers")
			config.PollTimeout = command.Duration("poll-timeout")

			runtime, err := cmd.NewRuntime(ctx, command, "jobflow-worker", config, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := runtime.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to release resources", "error", err)
				}
			}()

			worker := NewWorker(runtime, command.Bool("consume-commands"), logger)

			return worker.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
