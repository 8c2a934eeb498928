package cmd

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/jobflow/pkg/activity"
)

// ActivityOptions selects the providers behind the activity executor.
type ActivityOptions struct {
	GeminiAPIKey string
	GeminiModel  string

	SMTPAddr     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	Config activity.Config
}

// NewExecutor wires the configured providers. Without an API key cover
// letter generation fails permanently; without an SMTP server reminders are
// logged instead of sent. The returned function releases the providers.
func NewExecutor(ctx context.Context, logger *slog.Logger, tracer trace.Tracer, opts ActivityOptions) (*activity.Executor, func() error, error) {
	closer := func() error { return nil }

	var generator activity.CoverLetterGenerator = activity.UnavailableGenerator{Reason: "no Gemini API key configured"}

	if opts.GeminiAPIKey != "" {
		gemini, err := activity.NewGeminiGenerator(ctx, opts.GeminiAPIKey, opts.GeminiModel)
		if err != nil {
			return nil, nil, err
		}

		generator = gemini
		closer = gemini.Close
	} else {
		logger.WarnContext(ctx, "cover letter generation disabled: no Gemini API key")
	}

	var sender activity.ReminderSender = activity.LogSender{Logger: logger}

	if opts.SMTPAddr != "" {
		sender = activity.SMTPSender{
			Addr:     opts.SMTPAddr,
			From:     opts.SMTPFrom,
			Username: opts.SMTPUsername,
			Password: opts.SMTPPassword,
		}
	} else {
		logger.InfoContext(ctx, "reminder emails are logged only: no SMTP server configured")
	}

	return activity.NewExecutor(generator, sender, opts.Config, tracer, logger), closer, nil
}
