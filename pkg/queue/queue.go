// Package queue defines the leased task queue that feeds the worker pool.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/jobflow/pkg/models"
)

// DefaultLeaseTTL is how long a worker owns a task before it may be reclaimed.
const DefaultLeaseTTL = 2 * time.Minute

// ErrLeaseExpired is returned by Complete and Fail when the lease is no
// longer held by the caller, either because it expired or another worker
// reclaimed the task.
var ErrLeaseExpired = errors.New("worker lease expired")

// Lease is a time-bounded claim on the head task of one instance lane.
type Lease struct {
	Task      models.Task
	WorkerID  string
	Token     string
	ExpiresAt time.Time
}

// Queue hands out tasks so that tasks of the same instance are processed in
// enqueue order and never by two workers at once.
type Queue interface {
	Enqueue(ctx context.Context, task models.Task) error
	// Poll leases the next available task. It waits up to timeout and
	// returns nil without error when nothing became available. A zero
	// timeout never blocks.
	Poll(ctx context.Context, workerID string, timeout time.Duration) (*Lease, error)
	// Complete removes the leased task.
	Complete(ctx context.Context, lease *Lease) error
	// Fail releases the leased task for another attempt after retryAfter.
	// The task keeps its position at the head of its lane.
	Fail(ctx context.Context, lease *Lease, retryAfter time.Duration) error
	Close() error
}
