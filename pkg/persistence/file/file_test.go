package file

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(t *testing.T, kind models.EventKind) models.Event {
	t.Helper()

	event, err := models.NewEvent(kind, nil, time.Now())
	require.NoError(t, err)

	return event
}

func TestPersistence_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence("file://" + t.TempDir())

	events, err := p.Read(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, events)

	seq, err := p.Append(ctx, "app/1", 0, newEvent(t, models.EventStarted), newEvent(t, models.EventCoverLetterRequested))
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	seq, err = p.Append(ctx, "app/1", 2, newEvent(t, models.EventReminderScheduled))
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	events, err = p.Read(ctx, "app/1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	for i, event := range events {
		assert.Equal(t, int64(i+1), event.SequenceNumber)
	}

	tail, err := p.ReadFrom(ctx, "app/1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, models.EventReminderScheduled, tail[0].Kind)

	tail, err = p.ReadFrom(ctx, "app/1", 3)
	require.NoError(t, err)
	assert.Empty(t, tail)

	ids, err := p.Instances(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/1"}, ids)
}

func TestPersistence_AppendStaleVersion(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	_, err := p.Append(ctx, "app-1", 0, newEvent(t, models.EventStarted))
	require.NoError(t, err)

	_, err = p.Append(ctx, "app-1", 0, newEvent(t, models.EventStarted))
	require.Error(t, err)
	assert.True(t, persistence.IsConcurrentModification(err))

	events, err := p.Read(ctx, "app-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPersistence_ConcurrentAppendOneWins(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())

	_, err := p.Append(ctx, "app-1", 0, newEvent(t, models.EventStarted))
	require.NoError(t, err)

	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)

	for range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := p.Append(ctx, "app-1", 1, newEvent(t, models.EventStatusChanged))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				wins++
			case persistence.IsConcurrentModification(err):
				conflicts++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}

func TestPersistence_Timers(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	early := &models.Timer{ID: "a/DeadlineReminder", InstanceID: "a", Purpose: models.TimerDeadlineReminder, FireAt: now.Add(-time.Minute)}
	late := &models.Timer{ID: "b/DeadlineReminder", InstanceID: "b", Purpose: models.TimerDeadlineReminder, FireAt: now.Add(time.Hour)}
	earliest := &models.Timer{ID: "c/AutoArchive", InstanceID: "c", Purpose: models.TimerAutoArchive, FireAt: now.Add(-time.Hour)}

	for _, timer := range []*models.Timer{early, late, earliest} {
		created, err := p.SaveTimer(ctx, timer)
		require.NoError(t, err)
		assert.True(t, created)
	}

	moved := *early
	moved.FireAt = now.Add(48 * time.Hour)
	created, err := p.SaveTimer(ctx, &moved)
	require.NoError(t, err)
	assert.False(t, created, "existing timer must not be replaced")

	due, err := p.DueTimers(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, earliest.ID, due[0].ID)
	assert.Equal(t, early.ID, due[1].ID)

	due, err = p.DueTimers(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	fired, err := p.MarkTimerFired(ctx, early.ID, now)
	require.NoError(t, err)
	assert.True(t, fired)

	cancelled, err := p.CancelTimer(ctx, early.ID)
	require.NoError(t, err)
	assert.False(t, cancelled, "fired timer cannot be cancelled")

	cancelled, err = p.CancelTimer(ctx, late.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = p.CancelTimer(ctx, late.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	cancelled, err = p.CancelTimer(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, cancelled)

	stored, err := p.TimerByID(ctx, early.ID)
	require.NoError(t, err)
	assert.True(t, stored.Fired)
	require.NotNil(t, stored.FiredAt)

	_, err = p.TimerByID(ctx, "missing")
	assert.True(t, persistence.IsTimerNotFound(err))

	require.NoError(t, p.HealthCheck(ctx))
	require.NoError(t, p.Close(ctx))
}
