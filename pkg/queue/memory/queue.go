// Package memory provides an in-process task queue.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/queue"
)

const pollInterval = 50 * time.Millisecond

type lane struct {
	tasks []models.Task
	lease *queue.Lease
}

// Queue is a non-durable queue.Queue. Tasks are lost on restart; the
// engine re-derives outstanding work from history on recovery.
type Queue struct {
	clock    clockwork.Clock
	leaseTTL time.Duration

	mu     sync.Mutex
	lanes  map[string]*lane
	order  []string
	notify chan struct{}
	closed bool
}

type Option func(*Queue)

// WithClock sets the clock used for availability and lease expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(q *Queue) { q.clock = clock }
}

// WithLeaseTTL sets how long a lease is held.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(q *Queue) { q.leaseTTL = ttl }
}

func New(opts ...Option) *Queue {
	q := &Queue{
		clock:    clockwork.NewRealClock(),
		leaseTTL: queue.DefaultLeaseTTL,
		lanes:    make(map[string]*lane),
		notify:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *Queue) Enqueue(_ context.Context, task models.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	now := q.clock.Now()
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = now
	}

	if task.AvailableAt.IsZero() {
		task.AvailableAt = now
	}

	l, ok := q.lanes[task.InstanceID]
	if !ok {
		l = &lane{}
		q.lanes[task.InstanceID] = l
		q.order = append(q.order, task.InstanceID)
	}

	l.tasks = append(l.tasks, task)
	q.broadcast()

	return nil
}

func (q *Queue) Poll(ctx context.Context, workerID string, timeout time.Duration) (*queue.Lease, error) {
	deadline := q.clock.Now().Add(timeout)

	for {
		q.mu.Lock()
		lease := q.acquire(workerID)
		wake := q.notify
		q.mu.Unlock()

		if lease != nil {
			return lease, nil
		}

		remaining := deadline.Sub(q.clock.Now())
		if remaining <= 0 {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		case <-q.clock.After(min(remaining, pollInterval)):
		}
	}
}

// acquire leases the head task of the first eligible lane. Callers hold q.mu.
func (q *Queue) acquire(workerID string) *queue.Lease {
	if q.closed {
		return nil
	}

	now := q.clock.Now()

	for i, instanceID := range q.order {
		l := q.lanes[instanceID]
		if l.lease != nil && now.Before(l.lease.ExpiresAt) {
			continue
		}

		head := l.tasks[0]
		if head.AvailableAt.After(now) {
			continue
		}

		l.lease = &queue.Lease{
			Task:      head,
			WorkerID:  workerID,
			Token:     uuid.NewString(),
			ExpiresAt: now.Add(q.leaseTTL),
		}

		// rotate the lane to the back so other instances get a turn
		q.order = append(append(q.order[:i:i], q.order[i+1:]...), instanceID)

		lease := *l.lease

		return &lease
	}

	return nil
}

func (q *Queue) Complete(_ context.Context, lease *queue.Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, err := q.held(lease)
	if err != nil {
		return err
	}

	l.tasks = l.tasks[1:]
	l.lease = nil

	if len(l.tasks) == 0 {
		q.removeLane(lease.Task.InstanceID)
	}

	q.broadcast()

	return nil
}

func (q *Queue) Fail(_ context.Context, lease *queue.Lease, retryAfter time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, err := q.held(lease)
	if err != nil {
		return err
	}

	l.tasks[0].Attempt++
	l.tasks[0].AvailableAt = q.clock.Now().Add(retryAfter)
	l.lease = nil
	q.broadcast()

	return nil
}

// Len returns the number of queued tasks, leased ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for _, l := range q.lanes {
		total += len(l.tasks)
	}

	return total
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.broadcast()

	return nil
}

// held returns the lane whose current lease matches lease.
func (q *Queue) held(lease *queue.Lease) (*lane, error) {
	l, ok := q.lanes[lease.Task.InstanceID]
	if !ok || l.lease == nil || l.lease.Token != lease.Token {
		return nil, queue.ErrLeaseExpired
	}

	if !q.clock.Now().Before(l.lease.ExpiresAt) {
		return nil, queue.ErrLeaseExpired
	}

	return l, nil
}

func (q *Queue) removeLane(instanceID string) {
	delete(q.lanes, instanceID)

	for i, id := range q.order {
		if id == instanceID {
			q.order = append(q.order[:i], q.order[i+1:]...)

			break
		}
	}
}

func (q *Queue) broadcast() {
	close(q.notify)
	q.notify = make(chan struct{})
}
