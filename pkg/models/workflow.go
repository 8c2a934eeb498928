// Package models defines the domain models of the job application workflow.
package models

import (
	"time"
)

// DefaultDeadlineWeeks is used when a submission does not specify a deadline.
const DefaultDeadlineWeeks = 4

// ApplicationInput is the immutable snapshot of a job application submission.
type ApplicationInput struct {
	Company        string `json:"company"         validate:"required,max=255"`
	Role           string `json:"role"            validate:"required,max=255"`
	JobDescription string `json:"job_description" validate:"required"`
	Resume         string `json:"resume"          validate:"required"`
	Email          string `json:"email"           validate:"required,email"`
	DeadlineWeeks  int    `json:"deadline_weeks"  validate:"gte=1,lte=52"`
}

// WithDefaults returns a copy of the input with unset optional fields filled in.
func (in ApplicationInput) WithDefaults() ApplicationInput {
	if in.DeadlineWeeks == 0 {
		in.DeadlineWeeks = DefaultDeadlineWeeks
	}

	return in
}

// Deadline is the time after submission at which a reminder is due.
func (in ApplicationInput) Deadline() time.Duration {
	return time.Duration(in.DeadlineWeeks) * 7 * 24 * time.Hour
}

// WorkflowInstance is the state of one application's workflow, derived by
// folding its event history.
type WorkflowInstance struct {
	ID           string           `json:"id"`
	State        Status           `json:"state"`
	Input        ApplicationInput `json:"input"`
	CoverLetter  *string          `json:"cover_letter,omitempty"`
	ReminderSent bool             `json:"reminder_sent"`
	History      []Event          `json:"history"`
	Version      int64            `json:"version"`

	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	UpdatesReceived int       `json:"updates_received"`

	CoverLetterRequested bool   `json:"cover_letter_requested"`
	CoverLetterFailure   string `json:"cover_letter_failure,omitempty"`

	ReminderTimerID string     `json:"reminder_timer_id,omitempty"`
	ReminderDueAt   *time.Time `json:"reminder_due_at,omitempty"`
	ReminderFired   bool       `json:"reminder_fired"`
	ReminderFailure string     `json:"reminder_failure,omitempty"`

	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`
	ArchiveTimerID  string     `json:"archive_timer_id,omitempty"`
	ArchiveDueAt    *time.Time `json:"archive_due_at,omitempty"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
	ArchiveReason   string     `json:"archive_reason,omitempty"`
}

// Exists reports whether the instance has been started.
func (w *WorkflowInstance) Exists() bool {
	return w != nil && w.Version > 0
}

// CoverLetterAvailable reports whether a cover letter has been generated.
func (w *WorkflowInstance) CoverLetterAvailable() bool {
	return w.CoverLetter != nil
}

// CoverLetterPending reports whether generation was requested and has not
// resolved yet (the COVER_LETTER_PENDING sub-state of SUBMITTED).
func (w *WorkflowInstance) CoverLetterPending() bool {
	return w.State == StatusSubmitted &&
		w.CoverLetterRequested &&
		w.CoverLetter == nil &&
		w.CoverLetterFailure == ""
}

// ReminderPending reports whether the deadline timer fired and the reminder
// email has neither been sent nor given up on.
func (w *WorkflowInstance) ReminderPending() bool {
	return w.State == StatusSubmitted &&
		w.ReminderFired &&
		!w.ReminderSent &&
		w.ReminderFailure == ""
}

// Clone returns a deep copy that shares no mutable state with w.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}

	c := *w
	c.History = make([]Event, len(w.History))
	copy(c.History, w.History)

	if w.CoverLetter != nil {
		text := *w.CoverLetter
		c.CoverLetter = &text
	}

	c.ReminderDueAt = cloneTime(w.ReminderDueAt)
	c.StatusChangedAt = cloneTime(w.StatusChangedAt)
	c.ArchiveDueAt = cloneTime(w.ArchiveDueAt)
	c.ArchivedAt = cloneTime(w.ArchivedAt)

	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}
