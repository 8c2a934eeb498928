package models

import "time"

// TaskKind selects the handler a worker runs for a task.
type TaskKind string

const (
	// TaskAdvance evaluates the state machine and issues the commands it decides on.
	TaskAdvance TaskKind = "advance"
	// TaskResume is TaskAdvance plus re-dispatch of activities left unresolved
	// in history, used on recovery.
	TaskResume              TaskKind = "resume"
	TaskGenerateCoverLetter TaskKind = "generate_cover_letter"
	TaskSendReminder        TaskKind = "send_reminder"
	TaskReminderFired       TaskKind = "reminder_fired"
	TaskAutoArchive         TaskKind = "auto_archive"
)

// Task is a unit of work for one workflow instance.
type Task struct {
	ID          string    `json:"id"`
	InstanceID  string    `json:"instance_id"`
	Kind        TaskKind  `json:"kind"`
	TimerID     string    `json:"timer_id,omitempty"`
	CausingSeq  int64     `json:"causing_seq"`
	Attempt     int       `json:"attempt"`
	AvailableAt time.Time `json:"available_at"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}
