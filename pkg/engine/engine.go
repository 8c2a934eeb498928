// Package engine is the orchestrator: it exposes the boundary operations of
// the workflow core and runs the worker pool that drains the task queue,
// advances state machines, schedules timers and records history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/jobflow/pkg/activity"
	"github.com/dukex/jobflow/pkg/eventbus"
	"github.com/dukex/jobflow/pkg/events"
	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/otelhelper"
	"github.com/dukex/jobflow/pkg/persistence"
	"github.com/dukex/jobflow/pkg/queue"
	"github.com/dukex/jobflow/pkg/timer"
	"github.com/dukex/jobflow/pkg/workflow"
)

// SignalType names a signal accepted by SignalWorkflow.
type SignalType string

const (
	SignalUpdateStatus SignalType = "update_status"
	SignalArchive      SignalType = "archive"
)

// Signal is an external instruction to a running workflow.
type Signal struct {
	Type   SignalType
	Status models.Status
}

type Engine struct {
	config    Config
	policy    workflow.Policy
	store     persistence.Persistence
	repo      *workflow.Repository
	queue     queue.Queue
	timers    *timer.Service
	executor  *activity.Executor
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
	tracer    trace.Tracer
	logger    *slog.Logger
	validate  *validator.Validate

	mu      sync.Mutex
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

func New(config Config, deps Dependencies) (*Engine, error) {
	if deps.Persistence == nil || deps.Queue == nil || deps.Executor == nil {
		return nil, errors.New("engine requires persistence, queue and executor")
	}

	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	if deps.Tracer == nil {
		deps.Tracer = otelhelper.NoopTracer()
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	if config.Workers <= 0 {
		config.Workers = 1
	}

	e := &Engine{
		config:    config,
		policy:    workflow.Policy{ArchiveGrace: config.ArchiveGrace},
		store:     deps.Persistence,
		repo:      workflow.NewRepository(deps.Persistence, config.CommitAttempts),
		queue:     deps.Queue,
		executor:  deps.Executor,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		tracer:    deps.Tracer,
		logger:    deps.Logger.With("module", "engine"),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}

	e.timers = timer.NewService(deps.Persistence, e.dispatchTimer,
		timer.WithClock(deps.Clock),
		timer.WithInterval(config.SweepInterval),
		timer.WithLogger(deps.Logger),
	)

	return e, nil
}

// Timers exposes the timer service of the engine.
func (e *Engine) Timers() *timer.Service {
	return e.timers
}

// StartWorkflow starts the workflow of an application and returns its
// instance id, which equals applicationID. A generated id is used when
// applicationID is empty. Starting an existing instance returns its id and
// changes nothing.
func (e *Engine) StartWorkflow(ctx context.Context, applicationID string, input models.ApplicationInput) (string, error) {
	input = input.WithDefaults()

	err := e.validate.Struct(input)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if applicationID == "" {
		applicationID = uuid.NewString()
	}

	started, err := workflow.Start(applicationID, input, e.clock.Now())
	if err != nil {
		return "", err
	}

	_, err = e.store.Append(ctx, applicationID, 0, started...)
	if err != nil {
		if persistence.IsConcurrentModification(err) {
			e.logger.InfoContext(ctx, "workflow already started", "instance_id", applicationID)

			return applicationID, nil
		}

		return "", fmt.Errorf("failed to start workflow %s: %w", applicationID, err)
	}

	inst, err := e.repo.Snapshot(ctx, applicationID)
	if err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "workflow started", "instance_id", applicationID, "company", input.Company, "role", input.Role)
	e.publish(ctx, inst, inst.History)

	err = e.enqueue(ctx, inst, models.TaskAdvance, "")
	if err != nil {
		return "", err
	}

	return applicationID, nil
}

// SignalWorkflow applies a signal to an instance. It fails with ErrNotFound,
// ErrInvalidTransition or ErrInvalidSignal.
func (e *Engine) SignalWorkflow(ctx context.Context, instanceID string, signal Signal) error {
	_, err := e.repo.Snapshot(ctx, instanceID)
	if err != nil {
		return err
	}

	var decide workflow.DecideFunc

	switch signal.Type {
	case SignalUpdateStatus:
		decide = func(inst *models.WorkflowInstance) ([]models.Event, error) {
			return workflow.UpdateStatus(inst, signal.Status, e.clock.Now())
		}
	case SignalArchive:
		decide = func(inst *models.WorkflowInstance) ([]models.Event, error) {
			return workflow.Archive(inst, "manual", e.clock.Now())
		}
	default:
		return fmt.Errorf("%w: unknown signal type %q", ErrInvalidSignal, signal.Type)
	}

	inst, committed, err := e.repo.Commit(ctx, instanceID, decide)
	if err != nil {
		return err
	}

	if len(committed) == 0 {
		return nil
	}

	e.logger.InfoContext(ctx, "workflow signalled", "instance_id", instanceID, "signal", signal.Type, "state", inst.State)
	e.publish(ctx, inst, committed)

	if inst.ReminderTimerID != "" && !inst.ReminderFired && inst.State != models.StatusSubmitted {
		_, err := e.timers.Cancel(ctx, inst.ReminderTimerID)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to cancel reminder", "instance_id", instanceID, "error", err)
		}
	}

	return e.enqueue(ctx, inst, models.TaskAdvance, "")
}

// QueryWorkflow returns the latest committed snapshot of an instance.
func (e *Engine) QueryWorkflow(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	return e.repo.Snapshot(ctx, instanceID)
}

// GetCoverLetter returns the generated cover letter or
// ErrCoverLetterNotAvailable.
func (e *Engine) GetCoverLetter(ctx context.Context, instanceID string) (string, error) {
	inst, err := e.repo.Snapshot(ctx, instanceID)
	if err != nil {
		return "", err
	}

	if !inst.CoverLetterAvailable() {
		return "", ErrCoverLetterNotAvailable
	}

	return *inst.CoverLetter, nil
}

// ListWorkflows returns a snapshot of every instance, newest first.
func (e *Engine) ListWorkflows(ctx context.Context) ([]*models.WorkflowInstance, error) {
	ids, err := e.store.Instances(ctx)
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0, len(ids))

	for _, id := range ids {
		inst, err := e.repo.Snapshot(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}

			return nil, err
		}

		instances = append(instances, inst)
	}

	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].ID < instances[j].ID
		}

		return instances[i].CreatedAt.After(instances[j].CreatedAt)
	})

	return instances, nil
}

// History returns the committed events of an instance.
func (e *Engine) History(ctx context.Context, instanceID string) ([]models.Event, error) {
	history, err := e.store.Read(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if len(history) == 0 {
		return nil, persistence.NewInstanceError("History", instanceID, persistence.ErrInstanceNotFound)
	}

	return history, nil
}

// Recover enqueues a resume task for every instance that is not archived,
// re-deriving the work a previous process may have left unfinished. It
// returns the number of tasks enqueued.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	ids, err := e.store.Instances(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0

	for _, id := range ids {
		inst, err := e.repo.Snapshot(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}

			return resumed, err
		}

		if inst.State == models.StatusArchived {
			continue
		}

		err = e.enqueue(ctx, inst, models.TaskResume, "")
		if err != nil {
			return resumed, err
		}

		resumed++
	}

	e.logger.InfoContext(ctx, "recovery enqueued resume tasks", "instances", resumed)

	return resumed, nil
}

func (e *Engine) enqueue(ctx context.Context, inst *models.WorkflowInstance, kind models.TaskKind, timerID string) error {
	now := e.clock.Now()

	err := e.queue.Enqueue(ctx, models.Task{
		ID:          uuid.NewString(),
		InstanceID:  inst.ID,
		Kind:        kind,
		TimerID:     timerID,
		CausingSeq:  inst.Version,
		AvailableAt: now,
		EnqueuedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue %s task for %s: %w", kind, inst.ID, err)
	}

	return nil
}

// dispatchTimer turns a due timer into a task of its instance.
func (e *Engine) dispatchTimer(ctx context.Context, t *models.Timer) error {
	kind := models.TaskReminderFired
	if t.Purpose == models.TimerAutoArchive {
		kind = models.TaskAutoArchive
	}

	now := e.clock.Now()

	return e.queue.Enqueue(ctx, models.Task{
		ID:          uuid.NewString(),
		InstanceID:  t.InstanceID,
		Kind:        kind,
		TimerID:     t.ID,
		AvailableAt: now,
		EnqueuedAt:  now,
	})
}

// publish announces committed events. Delivery is best effort.
func (e *Engine) publish(ctx context.Context, inst *models.WorkflowInstance, committed []models.Event) {
	if e.publisher == nil {
		return
	}

	for _, event := range committed {
		err := e.publisher.Publish(ctx, inst.ID, events.NewWorkflowEventRecorded(inst, event))
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to publish workflow event",
				"instance_id", inst.ID, "sequence_number", event.SequenceNumber, "error", err)
		}
	}
}
