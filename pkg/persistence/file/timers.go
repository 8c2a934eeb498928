package file

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/persistence"
)

func (fp *Persistence) timersPath() string {
	return filepath.Join(fp.root, "timers.json")
}

func (fp *Persistence) loadTimers() (map[string]*models.Timer, error) {
	timers := make(map[string]*models.Timer)

	_, err := readJSON(fp.timersPath(), &timers)
	if err != nil {
		return nil, err
	}

	return timers, nil
}

// SaveTimer stores the timer unless a timer with the same id exists.
func (fp *Persistence) SaveTimer(_ context.Context, timer *models.Timer) (bool, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	timers, err := fp.loadTimers()
	if err != nil {
		return false, &persistence.TimerError{Op: "SaveTimer", TimerID: timer.ID, Err: err}
	}

	if _, exists := timers[timer.ID]; exists {
		return false, nil
	}

	stored := *timer
	timers[timer.ID] = &stored

	err = writeJSON(fp.timersPath(), timers)
	if err != nil {
		return false, &persistence.TimerError{Op: "SaveTimer", TimerID: timer.ID, Err: err}
	}

	return true, nil
}

// TimerByID returns the timer or ErrTimerNotFound.
func (fp *Persistence) TimerByID(_ context.Context, id string) (*models.Timer, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	timers, err := fp.loadTimers()
	if err != nil {
		return nil, &persistence.TimerError{Op: "TimerByID", TimerID: id, Err: err}
	}

	timer, ok := timers[id]
	if !ok {
		return nil, &persistence.TimerError{Op: "TimerByID", TimerID: id, Err: persistence.ErrTimerNotFound}
	}

	return timer, nil
}

// DueTimers returns due timers ordered by fire time.
func (fp *Persistence) DueTimers(_ context.Context, now time.Time, limit int) ([]*models.Timer, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	timers, err := fp.loadTimers()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Timer, 0)

	for _, timer := range timers {
		if timer.IsDue(now) {
			due = append(due, timer)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].FireAt.Equal(due[j].FireAt) {
			return due[i].ID < due[j].ID
		}

		return due[i].FireAt.Before(due[j].FireAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

// CancelTimer marks a pending timer cancelled.
func (fp *Persistence) CancelTimer(_ context.Context, id string) (bool, error) {
	return fp.updateTimer("CancelTimer", id, func(timer *models.Timer) {
		timer.Cancelled = true
	})
}

// MarkTimerFired marks a pending timer fired.
func (fp *Persistence) MarkTimerFired(_ context.Context, id string, at time.Time) (bool, error) {
	return fp.updateTimer("MarkTimerFired", id, func(timer *models.Timer) {
		firedAt := at.UTC()
		timer.Fired = true
		timer.FiredAt = &firedAt
	})
}

// updateTimer applies fn to a timer that is neither fired nor cancelled.
func (fp *Persistence) updateTimer(op, id string, fn func(*models.Timer)) (bool, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	timers, err := fp.loadTimers()
	if err != nil {
		return false, &persistence.TimerError{Op: op, TimerID: id, Err: err}
	}

	timer, ok := timers[id]
	if !ok || timer.Fired || timer.Cancelled {
		return false, nil
	}

	fn(timer)

	err = writeJSON(fp.timersPath(), timers)
	if err != nil {
		return false, &persistence.TimerError{Op: op, TimerID: id, Err: err}
	}

	return true, nil
}
