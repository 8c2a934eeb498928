package cmd

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/jobflow/pkg/activity"
	"github.com/dukex/jobflow/pkg/eventbus"
	"github.com/dukex/jobflow/pkg/queue/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseProvider(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{url: "file://./data", expected: "file"},
		{url: "./data", expected: "file"},
		{url: "postgres://user@localhost/jobflow", expected: "postgres"},
		{url: "postgresql://user@localhost/jobflow", expected: "postgresql"},
		{url: "mongodb://localhost", expected: "file"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseProvider(tt.url, supportedPersistenceProviders, "file"))
		})
	}
}

func TestIsInProcessQueue(t *testing.T) {
	assert.True(t, IsInProcessQueue(""))
	assert.True(t, IsInProcessQueue("memory://"))
	assert.False(t, IsInProcessQueue("redis://localhost:6379/0"))
	assert.False(t, IsInProcessQueue("rediss://cache.internal:6380/1"))
}

func TestNewPersistence_File(t *testing.T) {
	ctx := context.Background()

	store, err := NewPersistence(ctx, testLogger(), "file://"+t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(ctx))
}

func TestNewQueue_Memory(t *testing.T) {
	for _, url := range []string{"", "memory://"} {
		q, err := NewQueue(context.Background(), testLogger(), url)
		require.NoError(t, err)
		assert.IsType(t, &memory.Queue{}, q)
	}
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("", nil, "jobflow", testLogger())
	require.NoError(t, err)
	assert.Nil(t, bus)

	bus, err = NewEventBus("gochannel", nil, "jobflow", testLogger())
	require.NoError(t, err)
	assert.IsType(t, &eventbus.WatermillEventBus{}, bus)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("kafka", nil, "jobflow", testLogger())
	assert.Error(t, err)

	_, err = NewEventBus("nats", nil, "jobflow", testLogger())
	assert.Error(t, err)
}

func TestNewExecutor_Fallbacks(t *testing.T) {
	ctx := context.Background()

	executor, closer, err := NewExecutor(ctx, testLogger(), nil, ActivityOptions{Config: activity.DefaultConfig()})
	require.NoError(t, err)
	require.NoError(t, closer())

	_, err = executor.GenerateCoverLetter(ctx, 1, activity.CoverLetterRequest{ApplicationID: "app-1"})
	require.Error(t, err)
	assert.True(t, activity.IsPermanent(err))

	err = executor.SendReminder(ctx, 1, activity.ReminderRequest{
		ApplicationID: "app-1",
		Email:         "candidate@example.com",
		Company:       "Acme",
		Role:          "Engineer",
	})
	assert.NoError(t, err)
}
