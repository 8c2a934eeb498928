// Package events defines the messages exchanged over the event bus: workflow
// events published after every commit and the commands that drive workflows.
package events

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukex/jobflow/pkg/models"
)

type EventType string

const Topic = "jobflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// WorkflowEventRecordedEvent announces an event committed to a history.
	WorkflowEventRecordedEvent EventType = "workflow.event.recorded"

	// Commands.
	StartWorkflowCommandEvent  EventType = "workflow.command.start"
	SignalWorkflowCommandEvent EventType = "workflow.command.signal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type BaseEvent struct {
	ID         string         `json:"id"          validate:"required"`
	Type       EventType      `json:"type"        validate:"required"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// WorkflowEventRecorded mirrors one committed history event together with
// the instance status right after the commit.
type WorkflowEventRecorded struct {
	BaseEvent

	SequenceNumber int64            `json:"sequence_number" validate:"gte=1"`
	Kind           models.EventKind `json:"kind"            validate:"required"`
	Payload        json.RawMessage  `json:"payload,omitempty"`
	RecordedAt     time.Time        `json:"recorded_at"`
	Status         models.Status    `json:"status"`
	ReminderSent   bool             `json:"reminder_sent"`
}

func (e WorkflowEventRecorded) GetType() EventType {
	return WorkflowEventRecordedEvent
}

func (e WorkflowEventRecorded) Validate() error {
	return validate.Struct(e)
}

// NewWorkflowEventRecorded builds the notification for event of inst.
func NewWorkflowEventRecorded(inst *models.WorkflowInstance, event models.Event) *WorkflowEventRecorded {
	return &WorkflowEventRecorded{
		BaseEvent:      NewBaseEvent(WorkflowEventRecordedEvent, inst.ID),
		SequenceNumber: event.SequenceNumber,
		Kind:           event.Kind,
		Payload:        event.Payload,
		RecordedAt:     event.Timestamp,
		Status:         inst.State,
		ReminderSent:   inst.ReminderSent,
	}
}

// StartWorkflowCommand asks a worker to start the workflow of an
// application. Input is validated against the application input schema by
// the consumer.
type StartWorkflowCommand struct {
	BaseEvent

	ApplicationID string          `json:"application_id"`
	Input         json.RawMessage `json:"input"          validate:"required"`
}

func (c StartWorkflowCommand) GetType() EventType {
	return StartWorkflowCommandEvent
}

func (c StartWorkflowCommand) Validate() error {
	return validate.Struct(c)
}

func NewStartWorkflowCommand(applicationID string, input json.RawMessage) *StartWorkflowCommand {
	return &StartWorkflowCommand{
		BaseEvent:     NewBaseEvent(StartWorkflowCommandEvent, applicationID),
		ApplicationID: applicationID,
		Input:         input,
	}
}

// SignalWorkflowCommand delivers a signal to a running workflow.
type SignalWorkflowCommand struct {
	BaseEvent

	Signal string `json:"signal"           validate:"required,oneof=update_status archive"`
	Status string `json:"status,omitempty" validate:"required_if=Signal update_status"`
}

func (c SignalWorkflowCommand) GetType() EventType {
	return SignalWorkflowCommandEvent
}

func (c SignalWorkflowCommand) Validate() error {
	return validate.Struct(c)
}

func NewSignalWorkflowCommand(instanceID, signal, status string) *SignalWorkflowCommand {
	return &SignalWorkflowCommand{
		BaseEvent: NewBaseEvent(SignalWorkflowCommandEvent, instanceID),
		Signal:    signal,
		Status:    status,
	}
}

// SignalPayload returns the command in the raw shape validated by
// models.SignalSchema.
func (c SignalWorkflowCommand) SignalPayload() ([]byte, error) {
	payload := map[string]string{"type": c.Signal}
	if c.Status != "" {
		payload["status"] = c.Status
	}

	return json.Marshal(payload)
}
