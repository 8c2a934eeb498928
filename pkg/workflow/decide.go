package workflow

import (
	"time"

	"github.com/dukex/jobflow/pkg/models"
)

// Policy holds the tunables the decision function depends on.
type Policy struct {
	// ArchiveGrace is how long a WITHDRAWN application waits before it is
	// archived automatically. Zero disables auto-archive.
	ArchiveGrace time.Duration
}

// TimerRequest asks for a durable wake-up.
type TimerRequest struct {
	ID      string
	Purpose models.TimerPurpose
	FireAt  time.Time
}

// Decision is the outcome of evaluating an instance: events to commit,
// timers to schedule before committing them, and the follow-up work to
// perform after the commit.
type Decision struct {
	Events     []models.Event
	Timers     []TimerRequest
	Cancel     []string
	Activities []models.TaskKind
}

// Empty reports whether the decision requires no action.
func (d Decision) Empty() bool {
	return len(d.Events) == 0 && len(d.Timers) == 0 && len(d.Cancel) == 0 && len(d.Activities) == 0
}

// Decide evaluates inst and returns what must happen next. It is
// deterministic and idempotent: once its events are committed, deciding
// again yields nothing new besides harmless timer cancellations.
func Decide(inst *models.WorkflowInstance, now time.Time, policy Policy) (Decision, error) {
	var (
		d       Decision
		pending []pendingEvent
	)

	if inst.State == models.StatusSubmitted && !inst.CoverLetterRequested {
		pending = append(pending, pendingEvent{models.EventCoverLetterRequested, models.CoverLetterRequestedPayload{
			Activity: string(models.TaskGenerateCoverLetter),
		}})
		d.Activities = append(d.Activities, models.TaskGenerateCoverLetter)
	}

	if inst.State == models.StatusSubmitted && inst.ReminderTimerID == "" && !inst.ReminderSent {
		timer := TimerRequest{
			ID:      models.TimerID(inst.ID, models.TimerDeadlineReminder),
			Purpose: models.TimerDeadlineReminder,
			FireAt:  inst.CreatedAt.Add(inst.Input.Deadline()),
		}

		d.Timers = append(d.Timers, timer)
		pending = append(pending, pendingEvent{models.EventReminderScheduled, models.ReminderScheduledPayload{
			TimerID: timer.ID,
			FireAt:  timer.FireAt,
		}})
	}

	if inst.State != models.StatusSubmitted && inst.ReminderTimerID != "" && !inst.ReminderFired {
		d.Cancel = append(d.Cancel, inst.ReminderTimerID)
	}

	if autoArchivable(inst.State) && inst.ArchiveTimerID == "" && policy.ArchiveGrace > 0 && inst.StatusChangedAt != nil {
		timer := TimerRequest{
			ID:      models.TimerID(inst.ID, models.TimerAutoArchive),
			Purpose: models.TimerAutoArchive,
			FireAt:  inst.StatusChangedAt.Add(policy.ArchiveGrace),
		}

		d.Timers = append(d.Timers, timer)
		pending = append(pending, pendingEvent{models.EventArchiveScheduled, models.ArchiveScheduledPayload{
			TimerID: timer.ID,
			FireAt:  timer.FireAt,
		}})
	}

	if len(pending) > 0 {
		evts, err := events(now, pending...)
		if err != nil {
			return Decision{}, err
		}

		d.Events = evts
	}

	return d, nil
}

// Resume is Decide plus the work a crashed process may have left behind:
// timers recorded in history are re-scheduled (scheduling is idempotent)
// and unresolved activities are dispatched again.
func Resume(inst *models.WorkflowInstance, now time.Time, policy Policy) (Decision, error) {
	d, err := Decide(inst, now, policy)
	if err != nil {
		return Decision{}, err
	}

	if inst.State == models.StatusSubmitted && inst.ReminderTimerID != "" && !inst.ReminderFired && inst.ReminderDueAt != nil {
		d.Timers = append(d.Timers, TimerRequest{
			ID:      inst.ReminderTimerID,
			Purpose: models.TimerDeadlineReminder,
			FireAt:  *inst.ReminderDueAt,
		})
	}

	if autoArchivable(inst.State) && inst.ArchiveTimerID != "" && inst.ArchiveDueAt != nil {
		d.Timers = append(d.Timers, TimerRequest{
			ID:      inst.ArchiveTimerID,
			Purpose: models.TimerAutoArchive,
			FireAt:  *inst.ArchiveDueAt,
		})
	}

	d.Activities = append(d.Activities, PendingActivities(inst)...)

	return d, nil
}

// PendingActivities lists the activities requested in history whose outcome
// has not been recorded yet.
func PendingActivities(inst *models.WorkflowInstance) []models.TaskKind {
	var pending []models.TaskKind

	if inst.CoverLetterPending() {
		pending = append(pending, models.TaskGenerateCoverLetter)
	}

	if inst.ReminderPending() {
		pending = append(pending, models.TaskSendReminder)
	}

	return pending
}

// ShouldAutoArchive reports whether a fired AutoArchive timer should still
// archive the instance.
func ShouldAutoArchive(inst *models.WorkflowInstance) bool {
	return autoArchivable(inst.State)
}

// autoArchivable keeps REJECTED applications visible; only withdrawals are
// swept away.
func autoArchivable(status models.Status) bool {
	return status == models.StatusWithdrawn
}
