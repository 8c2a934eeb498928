package redis

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/queue"
)

func setupQueue(t *testing.T, opts ...Option) (*Queue, context.Context) {
	t.Helper()

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	opts = append([]Option{WithPrefix("test-" + uuid.NewString())}, opts...)

	q, err := New(ctx, logger, "redis://"+endpoint, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = q.Close()
	})

	return q, ctx
}

func TestQueue_LeaseOrderingAndCompletion(t *testing.T) {
	q, ctx := setupQueue(t)

	require.NoError(t, q.Enqueue(ctx, models.Task{InstanceID: "a", Kind: models.TaskAdvance}))
	require.NoError(t, q.Enqueue(ctx, models.Task{InstanceID: "a", Kind: models.TaskSendReminder}))
	require.NoError(t, q.Enqueue(ctx, models.Task{InstanceID: "b", Kind: models.TaskAdvance}))

	first, err := q.Poll(ctx, "w1", 0)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := q.Poll(ctx, "w2", 0)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Task.InstanceID, second.Task.InstanceID)

	none, err := q.Poll(ctx, "w3", 0)
	require.NoError(t, err)
	assert.Nil(t, none)

	leaseA := first
	if first.Task.InstanceID != "a" {
		leaseA = second
	}

	assert.Equal(t, models.TaskAdvance, leaseA.Task.Kind)
	require.NoError(t, q.Complete(ctx, leaseA))

	next, err := q.Poll(ctx, "w3", 0)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "a", next.Task.InstanceID)
	assert.Equal(t, models.TaskSendReminder, next.Task.Kind)

	assert.ErrorIs(t, q.Complete(ctx, leaseA), queue.ErrLeaseExpired)
}

func TestQueue_FailKeepsHeadAndDelays(t *testing.T) {
	q, ctx := setupQueue(t)

	require.NoError(t, q.Enqueue(ctx, models.Task{InstanceID: "a", Kind: models.TaskGenerateCoverLetter}))

	lease, err := q.Poll(ctx, "w1", 0)
	require.NoError(t, err)
	require.NotNil(t, lease)

	require.NoError(t, q.Fail(ctx, lease, 300*time.Millisecond))

	none, err := q.Poll(ctx, "w1", 0)
	require.NoError(t, err)
	assert.Nil(t, none)

	retry, err := q.Poll(ctx, "w1", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.Equal(t, lease.Task.ID, retry.Task.ID)
	assert.Equal(t, 1, retry.Task.Attempt)
}

func TestQueue_ExpiredLeaseIsReclaimed(t *testing.T) {
	q, ctx := setupQueue(t, WithLeaseTTL(200*time.Millisecond))

	require.NoError(t, q.Enqueue(ctx, models.Task{InstanceID: "a", Kind: models.TaskAdvance}))

	stale, err := q.Poll(ctx, "w1", 0)
	require.NoError(t, err)
	require.NotNil(t, stale)

	reclaimed, err := q.Poll(ctx, "w2", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, stale.Task.ID, reclaimed.Task.ID)

	assert.ErrorIs(t, q.Fail(ctx, stale, 0), queue.ErrLeaseExpired)
	require.NoError(t, q.Complete(ctx, reclaimed))
}

func TestItemEncoding(t *testing.T) {
	task := models.Task{ID: "t1", InstanceID: "a|b", Kind: models.TaskAdvance, AvailableAt: time.UnixMilli(1700000000000)}

	item, err := encodeItem(task)
	require.NoError(t, err)
	assert.Contains(t, item, "1700000000000|")

	decoded, err := decodeItem(item)
	require.NoError(t, err)
	assert.Equal(t, "a|b", decoded.InstanceID)

	_, err = decodeItem("garbage")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	q := &Queue{prefix: "jobflow"}

	assert.Equal(t, "jobflow:ready", q.readyKey())
	assert.Equal(t, "jobflow:lane:app-1", q.laneKey("app-1"))
	assert.Equal(t, "jobflow:lease:app-1", q.leaseKey("app-1"))
}
