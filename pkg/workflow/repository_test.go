package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/persistence"
	"github.com/dukex/jobflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepository(t *testing.T) (*Repository, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	return NewRepository(store, 0), store
}

func startInstance(t *testing.T, store persistence.EventStore, id string) {
	t.Helper()

	events, err := Start(id, testInput(), t0)
	require.NoError(t, err)

	_, err = store.Append(context.Background(), id, 0, events...)
	require.NoError(t, err)
}

func TestRepository_SnapshotNotFound(t *testing.T) {
	repo, _ := newRepository(t)

	_, err := repo.Snapshot(context.Background(), "missing")
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func TestRepository_SnapshotRefreshesIncrementally(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepository(t)
	startInstance(t, store, "app-1")

	inst, err := repo.Snapshot(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inst.Version)

	evts, err := UpdateStatus(inst, models.StatusOffer, t0)
	require.NoError(t, err)
	_, err = store.Append(ctx, "app-1", 1, evts...)
	require.NoError(t, err)

	inst, err = repo.Snapshot(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inst.Version)
	assert.Equal(t, models.StatusOffer, inst.State)

	history, err := store.Read(ctx, "app-1")
	require.NoError(t, err)

	replayed, err := Replay("app-1", history)
	require.NoError(t, err)
	assert.Equal(t, replayed, inst)
}

func TestRepository_Commit(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepository(t)
	startInstance(t, store, "app-1")

	inst, committed, err := repo.Commit(ctx, "app-1", func(inst *models.WorkflowInstance) ([]models.Event, error) {
		return UpdateStatus(inst, models.StatusInterview, t0)
	})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.Equal(t, int64(2), committed[0].SequenceNumber)
	assert.Equal(t, models.StatusInterview, inst.State)

	_, committed, err = repo.Commit(ctx, "app-1", func(inst *models.WorkflowInstance) ([]models.Event, error) {
		return UpdateStatus(inst, models.StatusOffer, t0)
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, committed)

	inst, committed, err = repo.Commit(ctx, "app-1", func(inst *models.WorkflowInstance) ([]models.Event, error) {
		return FireReminder(inst, "app-1/DeadlineReminder", t0)
	})
	require.NoError(t, err)
	assert.Empty(t, committed)
	assert.Equal(t, int64(2), inst.Version)
}

func TestRepository_CommitRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepository(t)
	startInstance(t, store, "app-1")

	calls := 0

	_, committed, err := repo.Commit(ctx, "app-1", func(inst *models.WorkflowInstance) ([]models.Event, error) {
		calls++

		if calls == 1 {
			// a competing writer commits between read and append
			other, err := FireReminder(inst, "app-1/DeadlineReminder", t0)
			require.NoError(t, err)
			_, err = store.Append(ctx, "app-1", inst.Version, other...)
			require.NoError(t, err)
		}

		return UpdateStatus(inst, models.StatusRejected, t0.Add(time.Minute))
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, committed, 1)
	assert.Equal(t, int64(3), committed[0].SequenceNumber)
}

func TestRepository_ConcurrentCommitsSerialize(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepository(t)
	startInstance(t, store, "app-1")

	var wg sync.WaitGroup

	errs := make(chan error, 2)

	for _, status := range []models.Status{models.StatusOffer, models.StatusRejected} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _, err := repo.Commit(ctx, "app-1", func(inst *models.WorkflowInstance) ([]models.Event, error) {
				return UpdateStatus(inst, status, t0)
			})
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	var ok, invalid int

	for err := range errs {
		switch {
		case err == nil:
			ok++
		case IsInvalidTransition(err):
			invalid++
		}
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, invalid)

	inst, err := repo.Snapshot(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inst.Version)
	assert.Equal(t, 1, inst.UpdatesReceived)
}
