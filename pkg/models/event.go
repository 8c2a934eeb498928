package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies what happened to a workflow instance.
type EventKind string

const (
	EventStarted              EventKind = "Started"
	EventCoverLetterRequested EventKind = "CoverLetterRequested"
	EventCoverLetterGenerated EventKind = "CoverLetterGenerated"
	EventCoverLetterFailed    EventKind = "CoverLetterFailed"
	EventStatusChanged        EventKind = "StatusChanged"
	EventReminderScheduled    EventKind = "ReminderScheduled"
	EventReminderFired        EventKind = "ReminderFired"
	EventReminderSent         EventKind = "ReminderSent"
	EventReminderFailed       EventKind = "ReminderFailed"
	EventArchiveScheduled     EventKind = "ArchiveScheduled"
	EventArchived             EventKind = "Archived"
)

// Event is one committed entry of an instance history. SequenceNumber is
// assigned by the event store on append.
type Event struct {
	SequenceNumber int64           `json:"sequence_number"`
	Kind           EventKind       `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewEvent builds an uncommitted event with a JSON encoded payload.
func NewEvent(kind EventKind, payload any, at time.Time) (Event, error) {
	event := Event{
		Kind:      kind,
		Timestamp: at.UTC(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}

		event.Payload = data
	}

	return event, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}

	err := json.Unmarshal(e.Payload, v)
	if err != nil {
		return fmt.Errorf("failed to decode %s payload at sequence %d: %w", e.Kind, e.SequenceNumber, err)
	}

	return nil
}

type StartedPayload struct {
	ApplicationID string           `json:"application_id"`
	Input         ApplicationInput `json:"input"`
}

type CoverLetterRequestedPayload struct {
	Activity string `json:"activity"`
}

type CoverLetterGeneratedPayload struct {
	Text     string `json:"text"`
	Attempts int    `json:"attempts"`
}

type CoverLetterFailedPayload struct {
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

type StatusChangedPayload struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

type ReminderScheduledPayload struct {
	TimerID string    `json:"timer_id"`
	FireAt  time.Time `json:"fire_at"`
}

type ReminderFiredPayload struct {
	TimerID string `json:"timer_id"`
}

type ReminderSentPayload struct {
	Recipient string `json:"recipient"`
	Attempts  int    `json:"attempts"`
}

type ReminderFailedPayload struct {
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

type ArchiveScheduledPayload struct {
	TimerID string    `json:"timer_id"`
	FireAt  time.Time `json:"fire_at"`
}

// ArchivedPayload records who archived the instance: "manual" or "policy".
type ArchivedPayload struct {
	Reason string `json:"reason"`
}
