package engine

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/jobflow/pkg/activity"
	"github.com/dukex/jobflow/pkg/eventbus"
	"github.com/dukex/jobflow/pkg/persistence"
	"github.com/dukex/jobflow/pkg/queue"
	"github.com/dukex/jobflow/pkg/timer"
	"github.com/dukex/jobflow/pkg/workflow"
)

// Config tunes the orchestrator.
type Config struct {
	// Workers is the number of concurrent task workers started by Start.
	Workers int
	// WorkerIDPrefix names the workers of this process.
	WorkerIDPrefix string
	// PollTimeout bounds how long an idle worker waits for a task.
	PollTimeout time.Duration
	// SweepInterval is the timer granularity.
	SweepInterval time.Duration
	// ArchiveGrace delays the automatic archive of withdrawn applications.
	// Zero disables it.
	ArchiveGrace time.Duration
	// CommitAttempts bounds optimistic concurrency retries.
	CommitAttempts int
	// RecoverOnStart enqueues a resume task per live instance in Start.
	RecoverOnStart bool

	CoverLetterRetry activity.RetryPolicy
	ReminderRetry    activity.RetryPolicy
	// TaskRetry paces the retries of tasks that failed on infrastructure
	// errors. Its MaxAttempts is ignored: such tasks are never dropped.
	TaskRetry activity.RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		Workers:          4,
		WorkerIDPrefix:   "worker",
		PollTimeout:      time.Second,
		SweepInterval:    timer.DefaultInterval,
		ArchiveGrace:     7 * 24 * time.Hour,
		CommitAttempts:   workflow.DefaultCommitAttempts,
		RecoverOnStart:   true,
		CoverLetterRetry: activity.DefaultRetryPolicy(),
		ReminderRetry:    activity.DefaultRetryPolicy(),
		TaskRetry:        activity.DefaultRetryPolicy(),
	}
}

// Dependencies are the collaborators of the engine. Persistence, Queue and
// Executor are required.
type Dependencies struct {
	Persistence persistence.Persistence
	Queue       queue.Queue
	Executor    *activity.Executor
	// Publisher receives a notification per committed event. Optional.
	Publisher eventbus.EventPublisher
	Clock     clockwork.Clock
	Tracer    trace.Tracer
	Logger    *slog.Logger
}
