// Package persistence provides the durable storage abstraction for workflow
// histories and timers.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/jobflow/pkg/models"
)

// EventStore is the append-only history of every workflow instance.
type EventStore interface {
	// Append commits events after expectedVersion and returns the sequence
	// number of the last one. The version check and the write are atomic;
	// a stale expectedVersion fails with ErrConcurrentModification.
	Append(ctx context.Context, instanceID string, expectedVersion int64, events ...models.Event) (int64, error)
	// Read returns the full history in sequence order, empty for unknown ids.
	Read(ctx context.Context, instanceID string) ([]models.Event, error)
	// ReadFrom returns the events with a sequence number greater than afterSeq.
	ReadFrom(ctx context.Context, instanceID string, afterSeq int64) ([]models.Event, error)
	Instances(ctx context.Context) ([]string, error)
}

// TimerStore is the durable due-time index.
type TimerStore interface {
	// SaveTimer inserts the timer unless one with the same id exists and
	// reports whether it was created.
	SaveTimer(ctx context.Context, timer *models.Timer) (bool, error)
	TimerByID(ctx context.Context, id string) (*models.Timer, error)
	// DueTimers returns up to limit non-cancelled, unfired timers with
	// FireAt <= now, earliest first.
	DueTimers(ctx context.Context, now time.Time, limit int) ([]*models.Timer, error)
	// CancelTimer returns false when the timer is unknown, fired or already cancelled.
	CancelTimer(ctx context.Context, id string) (bool, error)
	// MarkTimerFired returns false when the timer is unknown, fired or cancelled.
	MarkTimerFired(ctx context.Context, id string, at time.Time) (bool, error)
}

type Persistence interface {
	EventStore
	TimerStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
