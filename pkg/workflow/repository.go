package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/persistence"
)

// DefaultCommitAttempts bounds how often Commit re-evaluates after losing an
// optimistic concurrency race.
const DefaultCommitAttempts = 5

// DecideFunc returns the events to commit against a snapshot. It must not
// retain or mutate the snapshot.
type DecideFunc func(inst *models.WorkflowInstance) ([]models.Event, error)

// Repository serves instance snapshots folded from the event store. Snapshots
// are cached and refreshed incrementally from the cached version.
type Repository struct {
	store    persistence.EventStore
	attempts int

	mu    sync.Mutex
	cache map[string]*models.WorkflowInstance
}

// NewRepository creates a repository over store.
func NewRepository(store persistence.EventStore, commitAttempts int) *Repository {
	if commitAttempts <= 0 {
		commitAttempts = DefaultCommitAttempts
	}

	return &Repository{
		store:    store,
		attempts: commitAttempts,
		cache:    make(map[string]*models.WorkflowInstance),
	}
}

// Snapshot returns the latest committed state of an instance.
func (r *Repository) Snapshot(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	inst, err := r.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if !inst.Exists() {
		return nil, persistence.NewInstanceError("Snapshot", instanceID, persistence.ErrInstanceNotFound)
	}

	return inst, nil
}

// Commit evaluates decide against the latest snapshot and appends its
// events. On a concurrent modification it re-reads and re-evaluates. It
// returns the resulting snapshot and the events it committed.
func (r *Repository) Commit(ctx context.Context, instanceID string, decide DecideFunc) (*models.WorkflowInstance, []models.Event, error) {
	var lastErr error

	for range r.attempts {
		inst, err := r.load(ctx, instanceID)
		if err != nil {
			return nil, nil, err
		}

		events, err := decide(inst.Clone())
		if err != nil {
			return inst, nil, err
		}

		if len(events) == 0 {
			return inst, nil, nil
		}

		_, err = r.store.Append(ctx, instanceID, inst.Version, events...)
		if err != nil {
			if persistence.IsConcurrentModification(err) {
				lastErr = err

				continue
			}

			return nil, nil, err
		}

		updated, err := r.load(ctx, instanceID)
		if err != nil {
			return nil, nil, err
		}

		return updated, committedAfter(updated, inst.Version, len(events)), nil
	}

	return nil, nil, fmt.Errorf("commit to %s gave up after %d attempts: %w", instanceID, r.attempts, lastErr)
}

// committedAfter returns the count events that follow version in history.
func committedAfter(inst *models.WorkflowInstance, version int64, count int) []models.Event {
	start := int(version)
	end := start + count

	if end > len(inst.History) {
		end = len(inst.History)
	}

	committed := make([]models.Event, end-start)
	copy(committed, inst.History[start:end])

	return committed
}

func (r *Repository) load(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	r.mu.Lock()
	cached, ok := r.cache[instanceID]
	r.mu.Unlock()

	var inst *models.WorkflowInstance
	if ok {
		inst = cached.Clone()
	} else {
		inst = &models.WorkflowInstance{ID: instanceID}
	}

	events, err := r.store.ReadFrom(ctx, instanceID, inst.Version)
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		err := Apply(inst, event)
		if err != nil {
			return nil, err
		}
	}

	if !inst.Exists() {
		return inst, nil
	}

	r.mu.Lock()
	if current, ok := r.cache[instanceID]; !ok || current.Version < inst.Version {
		r.cache[instanceID] = inst.Clone()
	}
	r.mu.Unlock()

	return inst, nil
}
