// Package activity runs the side-effecting units of work of a workflow: one
// attempt per call, bounded by a timeout and a per-provider concurrency cap.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/dukex/jobflow/pkg/otelhelper"
)

// Type names an activity.
type Type string

const (
	TypeGenerateCoverLetter Type = "GenerateCoverLetter"
	TypeSendReminderEmail   Type = "SendReminderEmail"
)

// CoverLetterRequest is the input of GenerateCoverLetter.
type CoverLetterRequest struct {
	ApplicationID  string
	Company        string
	Role           string
	JobDescription string
	Resume         string
}

// ReminderRequest is the input of SendReminderEmail.
type ReminderRequest struct {
	ApplicationID string
	Email         string
	Company       string
	Role          string
	SubmittedAt   time.Time
}

// CoverLetterGenerator is the LLM capability.
type CoverLetterGenerator interface {
	GenerateCoverLetter(ctx context.Context, req CoverLetterRequest) (string, error)
}

// ReminderSender is the email capability.
type ReminderSender interface {
	SendReminder(ctx context.Context, req ReminderRequest) error
}

// Config tunes the executor.
type Config struct {
	CoverLetterTimeout time.Duration
	EmailTimeout       time.Duration
	// MaxConcurrentCoverLetters caps in-flight LLM calls per process.
	MaxConcurrentCoverLetters int64
	// MaxConcurrentEmails caps in-flight email sends per process.
	MaxConcurrentEmails int64
}

func DefaultConfig() Config {
	return Config{
		CoverLetterTimeout:        30 * time.Second,
		EmailTimeout:              10 * time.Second,
		MaxConcurrentCoverLetters: 4,
		MaxConcurrentEmails:       8,
	}
}

type limits struct {
	timeout time.Duration
	sem     *semaphore.Weighted
}

// Executor performs activity attempts. It is safe for concurrent use and is
// meant to be shared by every worker of a process.
type Executor struct {
	generator CoverLetterGenerator
	sender    ReminderSender
	limits    map[Type]limits
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewExecutor(generator CoverLetterGenerator, sender ReminderSender, config Config, tracer trace.Tracer, logger *slog.Logger) *Executor {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Executor{
		generator: generator,
		sender:    sender,
		limits: map[Type]limits{
			TypeGenerateCoverLetter: {
				timeout: config.CoverLetterTimeout,
				sem:     semaphore.NewWeighted(max(config.MaxConcurrentCoverLetters, 1)),
			},
			TypeSendReminderEmail: {
				timeout: config.EmailTimeout,
				sem:     semaphore.NewWeighted(max(config.MaxConcurrentEmails, 1)),
			},
		},
		tracer: tracer,
		logger: logger.With("module", "activity"),
	}
}

// Execute runs one attempt of activityType. Input must be a
// CoverLetterRequest (output string) or a ReminderRequest (output nil).
func (e *Executor) Execute(ctx context.Context, activityType Type, attempt int, input any) (any, error) {
	switch activityType {
	case TypeGenerateCoverLetter:
		req, ok := input.(CoverLetterRequest)
		if !ok {
			return nil, &Error{Type: activityType, Attempt: attempt, Err: Permanent(fmt.Errorf("unexpected input %T", input))}
		}

		return e.GenerateCoverLetter(ctx, attempt, req)
	case TypeSendReminderEmail:
		req, ok := input.(ReminderRequest)
		if !ok {
			return nil, &Error{Type: activityType, Attempt: attempt, Err: Permanent(fmt.Errorf("unexpected input %T", input))}
		}

		return nil, e.SendReminder(ctx, attempt, req)
	default:
		return nil, &Error{Type: activityType, Attempt: attempt, Err: Permanent(fmt.Errorf("unknown activity type %q", activityType))}
	}
}

// GenerateCoverLetter runs one generation attempt.
func (e *Executor) GenerateCoverLetter(ctx context.Context, attempt int, req CoverLetterRequest) (string, error) {
	var text string

	err := e.run(ctx, TypeGenerateCoverLetter, attempt, req.ApplicationID, func(ctx context.Context) error {
		out, err := e.generator.GenerateCoverLetter(ctx, req)
		if err != nil {
			return err
		}

		text = strings.TrimSpace(out)
		if text == "" {
			return errors.New("empty cover letter")
		}

		return nil
	})

	return text, err
}

// SendReminder runs one delivery attempt.
func (e *Executor) SendReminder(ctx context.Context, attempt int, req ReminderRequest) error {
	return e.run(ctx, TypeSendReminderEmail, attempt, req.ApplicationID, func(ctx context.Context) error {
		return e.sender.SendReminder(ctx, req)
	})
}

func (e *Executor) run(ctx context.Context, activityType Type, attempt int, applicationID string, fn func(context.Context) error) error {
	l := e.limits[activityType]

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "activity "+string(activityType),
		attribute.String(otelhelper.ActivityTypeKey, string(activityType)),
		attribute.String(otelhelper.InstanceIDKey, applicationID),
		attribute.Int(otelhelper.TaskAttemptKey, attempt),
	)
	defer span.End()

	err := l.sem.Acquire(ctx, 1)
	if err != nil {
		wrapped := &Error{Type: activityType, Attempt: attempt, Err: err}
		otelhelper.SetError(span, wrapped)

		return wrapped
	}

	defer l.sem.Release(1)

	attemptCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	err = fn(attemptCtx)

	if err == nil {
		e.logger.DebugContext(ctx, "activity attempt succeeded",
			"type", activityType, "application_id", applicationID,
			"attempt", attempt, "duration", time.Since(start))

		return nil
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !IsPermanent(err) {
		err = fmt.Errorf("attempt timed out after %s: %w", l.timeout, err)
	}

	wrapped := &Error{Type: activityType, Attempt: attempt, Err: err}
	otelhelper.SetError(span, wrapped)

	e.logger.WarnContext(ctx, "activity attempt failed",
		"type", activityType, "application_id", applicationID,
		"attempt", attempt, "permanent", IsPermanent(err), "error", err)

	return wrapped
}
