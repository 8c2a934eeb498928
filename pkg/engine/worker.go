package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/jobflow/pkg/activity"
	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/otelhelper"
	"github.com/dukex/jobflow/pkg/queue"
	"github.com/dukex/jobflow/pkg/workflow"
)

// Start recovers unfinished work when configured to, starts the timer
// sweeper and launches the worker pool. Workers run until Stop is called or
// ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return errors.New("engine already started")
	}

	if e.config.RecoverOnStart {
		_, err := e.Recover(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover workflows: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)

	err := e.timers.Start(ctx)
	if err != nil {
		cancel()

		return err
	}

	e.cancel = cancel

	for i := range e.config.Workers {
		workerID := fmt.Sprintf("%s-%d", e.config.WorkerIDPrefix, i+1)

		e.workers.Add(1)

		go func() {
			defer e.workers.Done()

			e.work(ctx, workerID)
		}()
	}

	e.logger.InfoContext(ctx, "engine started", "workers", e.config.Workers)

	return nil
}

// Stop halts the sweeper and waits for the workers to finish their current
// task.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}

	e.timers.Stop()
	cancel()
	e.workers.Wait()

	e.logger.Info("engine stopped")
}

func (e *Engine) work(ctx context.Context, workerID string) {
	logger := e.logger.With("worker_id", workerID)

	for ctx.Err() == nil {
		lease, err := e.queue.Poll(ctx, workerID, e.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			logger.ErrorContext(ctx, "failed to poll task queue", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-e.clock.After(e.config.PollTimeout):
			}

			continue
		}

		if lease == nil {
			continue
		}

		e.process(ctx, lease)
	}
}

// RunOnce leases and processes at most one available task without waiting.
// It reports whether a task was processed.
func (e *Engine) RunOnce(ctx context.Context, workerID string) (bool, error) {
	lease, err := e.queue.Poll(ctx, workerID, 0)
	if err != nil {
		return false, err
	}

	if lease == nil {
		return false, nil
	}

	e.process(ctx, lease)

	return true, nil
}

// Drain processes available tasks and fires due timers until neither is
// left. Tasks scheduled for later are left in the queue. It returns the
// number of tasks processed.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	processed := 0

	for {
		ok, err := e.RunOnce(ctx, e.config.WorkerIDPrefix+"-drain")
		if err != nil {
			return processed, err
		}

		if ok {
			processed++

			continue
		}

		fired, err := e.timers.Sweep(ctx)
		if err != nil {
			return processed, err
		}

		if fired == 0 {
			return processed, nil
		}
	}
}

// process runs the handler of a leased task and settles the lease.
func (e *Engine) process(ctx context.Context, lease *queue.Lease) {
	task := lease.Task

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "jobflow.task."+string(task.Kind),
		attribute.String(otelhelper.InstanceIDKey, task.InstanceID),
		attribute.String(otelhelper.TaskIDKey, task.ID),
		attribute.String(otelhelper.TaskKindKey, string(task.Kind)),
		attribute.Int(otelhelper.TaskAttemptKey, task.Attempt),
		attribute.String(otelhelper.WorkerIDKey, lease.WorkerID),
	)
	defer span.End()

	logger := e.logger.With("instance_id", task.InstanceID, "task_id", task.ID, "task_kind", task.Kind, "worker_id", lease.WorkerID)

	err := e.handle(ctx, task)

	// the lease is settled even when the worker is stopping
	settleCtx := context.WithoutCancel(ctx)

	var retry *retryError

	switch {
	case err == nil:
		err = e.queue.Complete(settleCtx, lease)
	case errors.As(err, &retry):
		logger.WarnContext(ctx, "task will be retried", "attempt", task.Attempt+1, "retry_after", retry.after, "error", retry.err)
		otelhelper.SetError(span, retry.err)

		err = e.queue.Fail(settleCtx, lease, retry.after)
	case IsNotFound(err) || IsInvalidTransition(err):
		logger.WarnContext(ctx, "task discarded", "error", err)

		err = e.queue.Complete(settleCtx, lease)
	default:
		after := e.config.TaskRetry.Delay(task.Attempt + 1)

		logger.ErrorContext(ctx, "task failed", "attempt", task.Attempt+1, "retry_after", after, "error", err)
		otelhelper.SetError(span, err)

		err = e.queue.Fail(settleCtx, lease, after)
	}

	if err != nil {
		if errors.Is(err, queue.ErrLeaseExpired) {
			logger.WarnContext(ctx, "lease expired before the task was settled")

			return
		}

		logger.ErrorContext(ctx, "failed to settle task", "error", err)
	}
}

func (e *Engine) handle(ctx context.Context, task models.Task) error {
	switch task.Kind {
	case models.TaskAdvance:
		return e.advance(ctx, task.InstanceID, workflow.Decide)
	case models.TaskResume:
		return e.advance(ctx, task.InstanceID, workflow.Resume)
	case models.TaskGenerateCoverLetter:
		return e.generateCoverLetter(ctx, task)
	case models.TaskReminderFired:
		return e.reminderFired(ctx, task)
	case models.TaskSendReminder:
		return e.sendReminder(ctx, task)
	case models.TaskAutoArchive:
		return e.autoArchive(ctx, task)
	default:
		e.logger.ErrorContext(ctx, "unknown task kind", "task_kind", task.Kind, "task_id", task.ID)

		return nil
	}
}

type decideFn func(inst *models.WorkflowInstance, now time.Time, policy workflow.Policy) (workflow.Decision, error)

// advance evaluates the state machine and carries out its decision: timers
// are persisted before the events that record them are committed, stale
// timers are cancelled and activities are enqueued afterwards. Activities
// still pending in history are enqueued again so a retried task repairs a
// lost enqueue.
func (e *Engine) advance(ctx context.Context, instanceID string, decide decideFn) error {
	_, err := e.repo.Snapshot(ctx, instanceID)
	if err != nil {
		return err
	}

	var decision workflow.Decision

	scheduled := make(map[string]bool)

	inst, committed, err := e.repo.Commit(ctx, instanceID, func(current *models.WorkflowInstance) ([]models.Event, error) {
		d, err := decide(current, e.clock.Now(), e.policy)
		if err != nil {
			return nil, err
		}

		for _, t := range d.Timers {
			id, err := e.timers.Schedule(ctx, current.ID, t.Purpose, t.FireAt)
			if err != nil {
				return nil, err
			}

			scheduled[id] = true
		}

		decision = d

		return d.Events, nil
	})
	if err != nil {
		return err
	}

	e.publish(ctx, inst, committed)

	cancel := decision.Cancel

	for _, t := range decision.Timers {
		delete(scheduled, t.ID)
	}

	// timers scheduled by a decision that lost a concurrent commit
	for id := range scheduled {
		cancel = append(cancel, id)
	}

	for _, timerID := range cancel {
		_, err := e.timers.Cancel(ctx, timerID)
		if err != nil {
			return err
		}
	}

	for _, kind := range activities(decision.Activities, workflow.PendingActivities(inst)) {
		err := e.enqueue(ctx, inst, kind, "")
		if err != nil {
			return err
		}
	}

	return nil
}

// activities merges task kinds, dropping duplicates.
func activities(lists ...[]models.TaskKind) []models.TaskKind {
	seen := make(map[models.TaskKind]bool)

	var out []models.TaskKind

	for _, list := range lists {
		for _, kind := range list {
			if seen[kind] {
				continue
			}

			seen[kind] = true
			out = append(out, kind)
		}
	}

	return out
}

func (e *Engine) generateCoverLetter(ctx context.Context, task models.Task) error {
	inst, err := e.repo.Snapshot(ctx, task.InstanceID)
	if err != nil {
		return err
	}

	if !inst.CoverLetterPending() {
		return nil
	}

	attempt := task.Attempt + 1

	out, err := e.executor.Execute(ctx, activity.TypeGenerateCoverLetter, attempt, activity.CoverLetterRequest{
		ApplicationID:  inst.ID,
		Company:        inst.Input.Company,
		Role:           inst.Input.Role,
		JobDescription: inst.Input.JobDescription,
		Resume:         inst.Input.Resume,
	})
	if err != nil {
		if !activity.IsPermanent(err) && !e.config.CoverLetterRetry.Exhausted(attempt) {
			return retryAfter(e.config.CoverLetterRetry.Delay(attempt), err)
		}

		return e.record(ctx, task.InstanceID, func(current *models.WorkflowInstance) ([]models.Event, error) {
			return workflow.FailCoverLetter(current, err.Error(), attempt, e.clock.Now())
		})
	}

	text, _ := out.(string)

	return e.record(ctx, task.InstanceID, func(current *models.WorkflowInstance) ([]models.Event, error) {
		return workflow.AcceptCoverLetter(current, text, attempt, e.clock.Now())
	})
}

func (e *Engine) reminderFired(ctx context.Context, task models.Task) error {
	inst, committed, err := e.repo.Commit(ctx, task.InstanceID, func(current *models.WorkflowInstance) ([]models.Event, error) {
		return workflow.FireReminder(current, task.TimerID, e.clock.Now())
	})
	if err != nil {
		return err
	}

	if len(committed) == 0 && !inst.ReminderPending() {
		e.logger.InfoContext(ctx, "reminder fire ignored", "instance_id", task.InstanceID, "state", inst.State, "reminder_sent", inst.ReminderSent)

		return nil
	}

	e.publish(ctx, inst, committed)

	return e.enqueue(ctx, inst, models.TaskSendReminder, "")
}

func (e *Engine) sendReminder(ctx context.Context, task models.Task) error {
	inst, err := e.repo.Snapshot(ctx, task.InstanceID)
	if err != nil {
		return err
	}

	if !inst.ReminderPending() {
		return nil
	}

	attempt := task.Attempt + 1

	_, err = e.executor.Execute(ctx, activity.TypeSendReminderEmail, attempt, activity.ReminderRequest{
		ApplicationID: inst.ID,
		Email:         inst.Input.Email,
		Company:       inst.Input.Company,
		Role:          inst.Input.Role,
		SubmittedAt:   inst.CreatedAt,
	})
	if err != nil {
		if !activity.IsPermanent(err) && !e.config.ReminderRetry.Exhausted(attempt) {
			return retryAfter(e.config.ReminderRetry.Delay(attempt), err)
		}

		return e.record(ctx, task.InstanceID, func(current *models.WorkflowInstance) ([]models.Event, error) {
			return workflow.FailReminder(current, err.Error(), attempt, e.clock.Now())
		})
	}

	return e.record(ctx, task.InstanceID, func(current *models.WorkflowInstance) ([]models.Event, error) {
		return workflow.MarkReminderSent(current, inst.Input.Email, attempt, e.clock.Now())
	})
}

func (e *Engine) autoArchive(ctx context.Context, task models.Task) error {
	return e.record(ctx, task.InstanceID, func(current *models.WorkflowInstance) ([]models.Event, error) {
		if !workflow.ShouldAutoArchive(current) {
			return nil, nil
		}

		return workflow.Archive(current, "policy", e.clock.Now())
	})
}

// record commits the events built by decide and publishes them. Outcomes
// the state no longer accepts are logged and dropped.
func (e *Engine) record(ctx context.Context, instanceID string, decide workflow.DecideFunc) error {
	inst, committed, err := e.repo.Commit(ctx, instanceID, decide)
	if err != nil {
		if IsInvalidTransition(err) {
			e.logger.WarnContext(ctx, "activity outcome discarded", "instance_id", instanceID, "error", err)

			return nil
		}

		return err
	}

	e.publish(ctx, inst, committed)

	return nil
}
