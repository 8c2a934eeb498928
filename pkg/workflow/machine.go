// Package workflow implements the job application state machine as a pure
// fold over the event history, plus the builders that turn commands into
// events.
package workflow

import (
	"fmt"
	"time"

	"github.com/dukex/jobflow/pkg/models"
)

// Apply folds one committed event into inst. Events must arrive in
// sequence order with no gaps.
func Apply(inst *models.WorkflowInstance, event models.Event) error {
	if event.SequenceNumber != inst.Version+1 {
		return fmt.Errorf("instance %s: expected sequence %d, got %d", inst.ID, inst.Version+1, event.SequenceNumber)
	}

	at := event.Timestamp

	switch event.Kind {
	case models.EventStarted:
		var p models.StartedPayload
		if err := event.Decode(&p); err != nil {
			return err
		}

		if inst.ID == "" {
			inst.ID = p.ApplicationID
		}

		inst.State = models.StatusSubmitted
		inst.Input = p.Input
		inst.CreatedAt = at

	case models.EventCoverLetterRequested:
		inst.CoverLetterRequested = true

	case models.EventCoverLetterGenerated:
		var p models.CoverLetterGeneratedPayload
		if err := event.Decode(&p); err != nil {
			return err
		}

		text := p.Text
		inst.CoverLetter = &text
		inst.CoverLetterFailure = ""

	case models.EventCoverLetterFailed:
		var p models.CoverLetterFailedPayload
		if err := event.Decode(&p); err != nil {
			return err
		}

		inst.CoverLetterFailure = p.Reason

	case models.EventStatusChanged:
		var p models.StatusChangedPayload
		if err := event.Decode(&p); err != nil {
			return err
		}

		inst.State = p.To
		inst.UpdatesReceived++
		inst.StatusChangedAt = &at

	case models.EventReminderScheduled:
		var p models.ReminderScheduledPayload
		if err := event.Decode(&p); err != nil {
			return err
		}

		due := p.FireAt
		inst.ReminderTimerID = p.TimerID
		inst.ReminderDueAt = &due

	case models.EventReminderFired:
		inst.ReminderFired = true

	case models.EventReminderSent:
		inst.ReminderSent = true
		inst.ReminderFailure = ""

	case models.EventReminderFailed:
		var p models.ReminderFailedPayload
		if err := event.Decode(&p); err != nil {
			return err
		}

		inst.ReminderFailure = p.Reason

	case models.EventArchiveScheduled:
		var p models.ArchiveScheduledPayload
		if err := event.Decode(&p); err != nil {
			return err
		}

		due := p.FireAt
		inst.ArchiveTimerID = p.TimerID
		inst.ArchiveDueAt = &due

	case models.EventArchived:
		var p models.ArchivedPayload
		if err := event.Decode(&p); err != nil {
			return err
		}

		inst.State = models.StatusArchived
		inst.ArchivedAt = &at
		inst.ArchiveReason = p.Reason

	default:
		return fmt.Errorf("instance %s: unknown event kind %q at sequence %d", inst.ID, event.Kind, event.SequenceNumber)
	}

	inst.History = append(inst.History, event)
	inst.Version = event.SequenceNumber
	inst.UpdatedAt = at

	return nil
}

// Replay rebuilds an instance from empty by folding its full history.
func Replay(instanceID string, events []models.Event) (*models.WorkflowInstance, error) {
	inst := &models.WorkflowInstance{
		ID:      instanceID,
		History: make([]models.Event, 0, len(events)),
	}

	for _, event := range events {
		err := Apply(inst, event)
		if err != nil {
			return nil, err
		}
	}

	return inst, nil
}

// Start builds the initial event of an instance.
func Start(applicationID string, input models.ApplicationInput, now time.Time) ([]models.Event, error) {
	return events(now, pendingEvent{models.EventStarted, models.StartedPayload{
		ApplicationID: applicationID,
		Input:         input,
	}})
}

// UpdateStatus moves a SUBMITTED instance to one of the decided statuses.
func UpdateStatus(inst *models.WorkflowInstance, to models.Status, now time.Time) ([]models.Event, error) {
	if !to.IsDecided() || !CanTransition(inst.State, to) {
		return nil, &TransitionError{
			Op:     "UpdateStatus",
			From:   inst.State,
			To:     to,
			Reason: "status can only change once, from SUBMITTED to INTERVIEW, OFFER, REJECTED or WITHDRAWN",
		}
	}

	return events(now, pendingEvent{models.EventStatusChanged, models.StatusChangedPayload{
		From: inst.State,
		To:   to,
	}})
}

// Archive moves a decided instance to ARCHIVED. Archiving an archived
// instance yields no events.
func Archive(inst *models.WorkflowInstance, reason string, now time.Time) ([]models.Event, error) {
	if inst.State == models.StatusArchived {
		return nil, nil
	}

	if !CanTransition(inst.State, models.StatusArchived) {
		return nil, &TransitionError{
			Op:     "Archive",
			From:   inst.State,
			To:     models.StatusArchived,
			Reason: "only decided applications can be archived",
		}
	}

	return events(now, pendingEvent{models.EventArchived, models.ArchivedPayload{Reason: reason}})
}

// AcceptCoverLetter records a generated cover letter.
func AcceptCoverLetter(inst *models.WorkflowInstance, text string, attempts int, now time.Time) ([]models.Event, error) {
	if inst.State != models.StatusSubmitted {
		return nil, &TransitionError{Op: "CoverLetterGenerated", From: inst.State, Reason: "application is no longer submitted"}
	}

	if inst.CoverLetter != nil {
		return nil, &TransitionError{Op: "CoverLetterGenerated", From: inst.State, Reason: "cover letter already set"}
	}

	return events(now, pendingEvent{models.EventCoverLetterGenerated, models.CoverLetterGeneratedPayload{
		Text:     text,
		Attempts: attempts,
	}})
}

// FailCoverLetter records that generation gave up. It yields no events once
// the outcome is already known.
func FailCoverLetter(inst *models.WorkflowInstance, reason string, attempts int, now time.Time) ([]models.Event, error) {
	if inst.CoverLetter != nil || inst.CoverLetterFailure != "" {
		return nil, nil
	}

	return events(now, pendingEvent{models.EventCoverLetterFailed, models.CoverLetterFailedPayload{
		Reason:   reason,
		Attempts: attempts,
	}})
}

// FireReminder records the deadline timer firing. It is a no-op unless the
// instance is SUBMITTED, the reminder was never sent and this timer has not
// already been seen.
func FireReminder(inst *models.WorkflowInstance, timerID string, now time.Time) ([]models.Event, error) {
	if inst.State != models.StatusSubmitted || inst.ReminderSent || inst.ReminderFired {
		return nil, nil
	}

	return events(now, pendingEvent{models.EventReminderFired, models.ReminderFiredPayload{TimerID: timerID}})
}

// MarkReminderSent records a delivered reminder.
func MarkReminderSent(inst *models.WorkflowInstance, recipient string, attempts int, now time.Time) ([]models.Event, error) {
	if inst.ReminderSent {
		return nil, nil
	}

	if !inst.ReminderFired {
		return nil, &TransitionError{Op: "ReminderSent", From: inst.State, Reason: "reminder has not fired"}
	}

	return events(now, pendingEvent{models.EventReminderSent, models.ReminderSentPayload{
		Recipient: recipient,
		Attempts:  attempts,
	}})
}

// FailReminder records that reminder delivery gave up; the flag stays false.
func FailReminder(inst *models.WorkflowInstance, reason string, attempts int, now time.Time) ([]models.Event, error) {
	if inst.ReminderSent || inst.ReminderFailure != "" {
		return nil, nil
	}

	return events(now, pendingEvent{models.EventReminderFailed, models.ReminderFailedPayload{
		Reason:   reason,
		Attempts: attempts,
	}})
}

type pendingEvent struct {
	kind    models.EventKind
	payload any
}

func events(now time.Time, pending ...pendingEvent) ([]models.Event, error) {
	out := make([]models.Event, 0, len(pending))

	for _, p := range pending {
		event, err := models.NewEvent(p.kind, p.payload, now)
		if err != nil {
			return nil, err
		}

		out = append(out, event)
	}

	return out, nil
}
