package models

import "time"

// TimerPurpose tells the sweeper which task to enqueue when a timer fires.
type TimerPurpose string

const (
	TimerDeadlineReminder TimerPurpose = "DeadlineReminder"
	TimerAutoArchive      TimerPurpose = "AutoArchive"
)

// Timer is a durable wake-up for one instance.
type Timer struct {
	ID         string       `json:"id"`
	InstanceID string       `json:"instance_id"`
	Purpose    TimerPurpose `json:"purpose"`
	FireAt     time.Time    `json:"fire_at"`
	Cancelled  bool         `json:"cancelled"`
	Fired      bool         `json:"fired"`
	FiredAt    *time.Time   `json:"fired_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// TimerID returns the deterministic id of an instance timer. There is at
// most one timer per instance and purpose.
func TimerID(instanceID string, purpose TimerPurpose) string {
	return instanceID + "/" + string(purpose)
}

// IsDue reports whether the timer should fire at now.
func (t *Timer) IsDue(now time.Time) bool {
	return !t.Cancelled && !t.Fired && !t.FireAt.After(now)
}
