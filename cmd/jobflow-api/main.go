package main

import (
	"context"
	"errors"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/jobflow/pkg/cmd"
	"github.com/dukex/jobflow/pkg/engine"
	"github.com/dukex/jobflow/pkg/log"
)

const defaultPort = 9091

var errUnpolledQueue = errors.New("the memory queue needs in-process workers; set --workers above 0 or use a shared queue")

// inProcessWorkers returns how many task workers the API runs. Tasks on the
// memory queue are invisible to jobflow-worker, so that queue gets the
// default pool unless workers were explicitly disabled, which is refused.
func inProcessWorkers(queueURL string, workers int, explicit bool) (int, error) {
	if workers > 0 || !cmd.IsInProcessQueue(queueURL) {
		return max(workers, 0), nil
	}

	if explicit {
		return 0, errUnpolledQueue
	}

	return engine.DefaultConfig().Workers, nil
}

func main() {
	logger := log.WithModule("api")

	flags := append(cmd.EngineFlags(),
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Task workers to run in-process; defaults to 4 with the memory queue, 0 leaves the work to jobflow-worker",
			Value:   0,
			Sources: cli.EnvVars("WORKERS"),
		},
	)

	command := &cli.Command{
		Name:                  "jobflow-api",
		Usage:                 "Submit and manage job application workflows over HTTP",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing jobflow API")

			workers, err := inProcessWorkers(command.String("queue-url"), command.Int("workers"), command.IsSet("workers"))
			if err != nil {
				return err
			}

			config := engine.DefaultConfig()
			config.WorkerIDPrefix = "api-worker"
			config.Workers = workers

			runtime, err := cmd.NewRuntime(ctx, command, "jobflow-api", config, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := runtime.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to release resources", "error", err)
				}
			}()

			if workers > 0 {
				err := runtime.Engine.Start(ctx)
				if err != nil {
					return err
				}

				defer runtime.Engine.Stop()
			}

			api := NewAPI(logger, runtime.Engine, runtime.Persistence)

			err = api.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
