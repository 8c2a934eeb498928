package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/jobflow/pkg/activity"
	"github.com/dukex/jobflow/pkg/cmd"
	"github.com/dukex/jobflow/pkg/engine"
	"github.com/dukex/jobflow/pkg/events"
	"github.com/dukex/jobflow/pkg/mocks"
	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/persistence/file"
	"github.com/dukex/jobflow/pkg/queue/memory"
)

func newRuntime(t *testing.T) *cmd.Runtime {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir())

	config := engine.DefaultConfig()
	config.PollTimeout = 20 * time.Millisecond

	eng, err := engine.New(config, engine.Dependencies{
		Persistence: store,
		Queue:       memory.New(),
		Executor: activity.NewExecutor(
			activity.UnavailableGenerator{},
			activity.LogSender{Logger: logger},
			activity.DefaultConfig(), nil, logger),
		Logger: logger,
	})
	require.NoError(t, err)

	return &cmd.Runtime{Engine: eng, Persistence: store}
}

func TestWorker_RequiresBusToConsumeCommands(t *testing.T) {
	worker := NewWorker(newRuntime(t), true, slog.Default())

	err := worker.run(context.Background())
	assert.ErrorIs(t, err, errNoEventBus)
}

func TestWorker_RunsUntilCancelled(t *testing.T) {
	runtime := newRuntime(t)
	worker := NewWorker(runtime, false, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- worker.run(ctx) }()

	id, err := runtime.Engine.StartWorkflow(ctx, "app-1", models.ApplicationInput{
		Company:        "Acme",
		Role:           "Engineer",
		JobDescription: "Go",
		Resume:         "Go",
		Email:          "candidate@example.com",
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		inst, err := runtime.Engine.QueryWorkflow(ctx, id)

		return err == nil && inst.CoverLetterFailure != ""
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_SubscribesToCommands(t *testing.T) {
	runtime := newRuntime(t)

	bus := &mocks.MockEventBus{}
	bus.On("Handle", events.StartWorkflowCommandEvent, mock.Anything).Return(nil).Once()
	bus.On("Handle", events.SignalWorkflowCommandEvent, mock.Anything).Return(nil).Once()
	bus.On("Subscribe", mock.Anything).Return(nil).Once()
	runtime.EventBus = bus

	worker := NewWorker(runtime, true, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, worker.run(ctx))
	bus.AssertExpectations(t)
}

func TestWorker_SubscribeFailure(t *testing.T) {
	runtime := newRuntime(t)

	bus := &mocks.MockEventBus{}
	bus.On("Handle", mock.Anything, mock.Anything).Return(nil)
	bus.On("Subscribe", mock.Anything).Return(errors.New("broker unavailable"))
	runtime.EventBus = bus

	worker := NewWorker(runtime, true, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := worker.run(context.Background())
	assert.EqualError(t, err, "broker unavailable")
}
