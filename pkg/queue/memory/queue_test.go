package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/queue"
)

func task(instanceID string, kind models.TaskKind) models.Task {
	return models.Task{InstanceID: instanceID, Kind: kind}
}

func TestQueue_PerInstanceFIFOAndExclusivity(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	q := New(WithClock(clock))

	require.NoError(t, q.Enqueue(ctx, task("a", models.TaskAdvance)))
	require.NoError(t, q.Enqueue(ctx, task("a", models.TaskGenerateCoverLetter)))
	require.NoError(t, q.Enqueue(ctx, task("b", models.TaskAdvance)))

	first, err := q.Poll(ctx, "w1", 0)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.Task.InstanceID)
	assert.Equal(t, models.TaskAdvance, first.Task.Kind)
	assert.NotEmpty(t, first.Task.ID)

	second, err := q.Poll(ctx, "w2", 0)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "b", second.Task.InstanceID, "lane a is leased")

	none, err := q.Poll(ctx, "w3", 0)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, q.Complete(ctx, first))

	next, err := q.Poll(ctx, "w3", 0)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, models.TaskGenerateCoverLetter, next.Task.Kind)

	require.NoError(t, q.Complete(ctx, next))
	require.NoError(t, q.Complete(ctx, second))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_FailRetriesAfterDelay(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	q := New(WithClock(clock))

	require.NoError(t, q.Enqueue(ctx, task("a", models.TaskSendReminder)))
	require.NoError(t, q.Enqueue(ctx, task("a", models.TaskAdvance)))

	lease, err := q.Poll(ctx, "w1", 0)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, lease, 4*time.Second))

	none, err := q.Poll(ctx, "w1", 0)
	require.NoError(t, err)
	assert.Nil(t, none, "retry is not available yet and blocks its lane")

	clock.Advance(3 * time.Second)

	none, err = q.Poll(ctx, "w1", 0)
	require.NoError(t, err)
	assert.Nil(t, none)

	clock.Advance(time.Second)

	retry, err := q.Poll(ctx, "w1", 0)
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.Equal(t, models.TaskSendReminder, retry.Task.Kind)
	assert.Equal(t, 1, retry.Task.Attempt)
}

func TestQueue_ExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	q := New(WithClock(clock), WithLeaseTTL(time.Minute))

	require.NoError(t, q.Enqueue(ctx, task("a", models.TaskAdvance)))

	stale, err := q.Poll(ctx, "w1", 0)
	require.NoError(t, err)
	require.NotNil(t, stale)

	clock.Advance(time.Minute)

	err = q.Complete(ctx, stale)
	require.ErrorIs(t, err, queue.ErrLeaseExpired)

	reclaimed, err := q.Poll(ctx, "w2", 0)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, stale.Task.ID, reclaimed.Task.ID)
	assert.NotEqual(t, stale.Token, reclaimed.Token)

	assert.ErrorIs(t, q.Fail(ctx, stale, 0), queue.ErrLeaseExpired)
	require.NoError(t, q.Complete(ctx, reclaimed))
}

func TestQueue_PollBlocksUntilEnqueue(t *testing.T) {
	ctx := context.Background()
	q := New()

	var (
		wg    sync.WaitGroup
		lease *queue.Lease
		err   error
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		lease, err = q.Poll(ctx, "w1", 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, task("a", models.TaskAdvance)))

	wg.Wait()
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "a", lease.Task.InstanceID)
}

func TestQueue_PollHonorsContext(t *testing.T) {
	q := New()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	lease, err := q.Poll(ctx, "w1", time.Minute)
	assert.Nil(t, lease)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
