package web

import (
	"time"

	"github.com/dukex/jobflow/pkg/models"
)

// StartWorkflowRequest is the body of a new application submission.
type StartWorkflowRequest struct {
	ApplicationID  string `json:"application_id,omitempty" validate:"omitempty,max=255"`
	Company        string `json:"company"                  validate:"required,max=255"`
	Role           string `json:"role"                     validate:"required,max=255"`
	JobDescription string `json:"job_description"          validate:"required"`
	Resume         string `json:"resume"                   validate:"required"`
	Email          string `json:"email"                    validate:"required,email"`
	DeadlineWeeks  int    `json:"deadline_weeks,omitempty" validate:"omitempty,gte=1,lte=52"`
}

func (r StartWorkflowRequest) Input() models.ApplicationInput {
	return models.ApplicationInput{
		Company:        r.Company,
		Role:           r.Role,
		JobDescription: r.JobDescription,
		Resume:         r.Resume,
		Email:          r.Email,
		DeadlineWeeks:  r.DeadlineWeeks,
	}.WithDefaults()
}

type StartWorkflowResponse struct {
	InstanceID string `json:"instance_id"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// WorkflowResponse is the query view of an instance.
type WorkflowResponse struct {
	ID                   string        `json:"id"`
	State                models.Status `json:"state"`
	Company              string        `json:"company"`
	Role                 string        `json:"role"`
	Email                string        `json:"email"`
	DeadlineWeeks        int           `json:"deadline_weeks"`
	CoverLetterAvailable bool          `json:"cover_letter_available"`
	CoverLetterPending   bool          `json:"cover_letter_pending"`
	CoverLetterFailure   string        `json:"cover_letter_failure,omitempty"`
	ReminderSent         bool          `json:"reminder_sent"`
	ReminderDueAt        *time.Time    `json:"reminder_due_at,omitempty"`
	ReminderFailure      string        `json:"reminder_failure,omitempty"`
	UpdatesReceived      int           `json:"updates_received"`
	ArchivedAt           *time.Time    `json:"archived_at,omitempty"`
	ArchiveReason        string        `json:"archive_reason,omitempty"`
	Version              int64         `json:"version"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

func NewWorkflowResponse(inst *models.WorkflowInstance) WorkflowResponse {
	return WorkflowResponse{
		ID:                   inst.ID,
		State:                inst.State,
		Company:              inst.Input.Company,
		Role:                 inst.Input.Role,
		Email:                inst.Input.Email,
		DeadlineWeeks:        inst.Input.DeadlineWeeks,
		CoverLetterAvailable: inst.CoverLetterAvailable(),
		CoverLetterPending:   inst.CoverLetterPending(),
		CoverLetterFailure:   inst.CoverLetterFailure,
		ReminderSent:         inst.ReminderSent,
		ReminderDueAt:        inst.ReminderDueAt,
		ReminderFailure:      inst.ReminderFailure,
		UpdatesReceived:      inst.UpdatesReceived,
		ArchivedAt:           inst.ArchivedAt,
		ArchiveReason:        inst.ArchiveReason,
		Version:              inst.Version,
		CreatedAt:            inst.CreatedAt,
		UpdatedAt:            inst.UpdatedAt,
	}
}

type CoverLetterResponse struct {
	InstanceID  string `json:"instance_id"`
	CoverLetter string `json:"cover_letter"`
}
