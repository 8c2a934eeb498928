package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/jobflow/pkg/activity"
	"github.com/dukex/jobflow/pkg/engine"
	"github.com/dukex/jobflow/pkg/eventbus"
	"github.com/dukex/jobflow/pkg/otelhelper"
	"github.com/dukex/jobflow/pkg/persistence"
)

// EngineFlags are the flags shared by every binary that embeds the engine.
func EngineFlags() []cli.Flag {
	defaults := engine.DefaultConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file path, file://, postgres://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue-url",
			Usage:   "Task queue URL (memory://, redis://)",
			Value:   "memory://",
			Sources: cli.EnvVars("QUEUE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel); empty disables publishing",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "gemini-api-key",
			Usage:   "Gemini API key used to generate cover letters",
			Sources: cli.EnvVars("GEMINI_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "gemini-model",
			Usage:   "Gemini model name",
			Value:   activity.DefaultGeminiModel,
			Sources: cli.EnvVars("GEMINI_MODEL"),
		},
		&cli.StringFlag{
			Name:    "smtp-addr",
			Usage:   "SMTP relay host:port; reminders are only logged when empty",
			Sources: cli.EnvVars("SMTP_ADDR"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address of reminder emails",
			Value:   "jobflow@localhost",
			Sources: cli.EnvVars("SMTP_FROM"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Sources: cli.EnvVars("SMTP_USERNAME"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Sources: cli.EnvVars("SMTP_PASSWORD"),
		},
		&cli.DurationFlag{
			Name:    "archive-grace",
			Usage:   "Delay before withdrawn applications are archived; 0 disables",
			Value:   defaults.ArchiveGrace,
			Sources: cli.EnvVars("ARCHIVE_GRACE"),
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "Timer granularity",
			Value:   defaults.SweepInterval,
			Sources: cli.EnvVars("SWEEP_INTERVAL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// Runtime bundles the engine with the resources it was built from.
type Runtime struct {
	Engine      *engine.Engine
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus

	closers []func(context.Context) error
}

// Close releases every resource in reverse order of acquisition.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i](ctx))
	}

	return errors.Join(errs...)
}

// NewRuntime builds the engine and its dependencies from command flags.
func NewRuntime(ctx context.Context, command *cli.Command, serviceName string, config engine.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}

	fail := func(err error) (*Runtime, error) {
		_ = rt.Close(ctx)

		return nil, err
	}

	var tracer trace.Tracer = otelhelper.NoopTracer()

	if command.Bool("tracing") {
		t, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize tracer: %w", err))
		}

		tracer = t
		rt.closers = append(rt.closers, shutdown)
	}

	store, err := NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fail(err)
	}

	rt.Persistence = store
	rt.closers = append(rt.closers, store.Close)

	q, err := NewQueue(ctx, logger, command.String("queue-url"))
	if err != nil {
		return fail(err)
	}

	rt.closers = append(rt.closers, func(context.Context) error { return q.Close() })

	bus, err := NewEventBus(command.String("event-bus"), splitList(command.String("kafka-brokers")), serviceName, logger)
	if err != nil {
		return fail(err)
	}

	if bus != nil {
		rt.EventBus = bus
		rt.closers = append(rt.closers, func(context.Context) error { return bus.Close() })
	}

	executor, closeProviders, err := NewExecutor(ctx, logger, tracer, ActivityOptions{
		GeminiAPIKey: command.String("gemini-api-key"),
		GeminiModel:  command.String("gemini-model"),
		SMTPAddr:     command.String("smtp-addr"),
		SMTPFrom:     command.String("smtp-from"),
		SMTPUsername: command.String("smtp-username"),
		SMTPPassword: command.String("smtp-password"),
		Config:       activity.DefaultConfig(),
	})
	if err != nil {
		return fail(err)
	}

	rt.closers = append(rt.closers, func(context.Context) error { return closeProviders() })

	config.ArchiveGrace = command.Duration("archive-grace")
	config.SweepInterval = command.Duration("sweep-interval")

	deps := engine.Dependencies{
		Persistence: store,
		Queue:       q,
		Executor:    executor,
		Tracer:      tracer,
		Logger:      logger,
	}

	if bus != nil {
		deps.Publisher = bus
	}

	eng, err := engine.New(config, deps)
	if err != nil {
		return fail(err)
	}

	rt.Engine = eng

	return rt, nil
}

func splitList(value string) []string {
	var items []string

	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}

	return items
}

// WaitTimeout bounds graceful shutdowns.
const WaitTimeout = 30 * time.Second
