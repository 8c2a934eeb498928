package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/persistence"
)

const timerColumns = "id, instance_id, purpose, fire_at, cancelled, fired, fired_at, created_at"

// SaveTimer inserts the timer unless a timer with the same id exists.
func (p *Persistence) SaveTimer(ctx context.Context, timer *models.Timer) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO workflow_timers (id, instance_id, purpose, fire_at, cancelled, fired, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		timer.ID, timer.InstanceID, string(timer.Purpose), timer.FireAt.UTC(),
		timer.Cancelled, timer.Fired, timer.CreatedAt.UTC(),
	)
	if err != nil {
		return false, &persistence.TimerError{Op: "SaveTimer", TimerID: timer.ID, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, &persistence.TimerError{Op: "SaveTimer", TimerID: timer.ID, Err: err}
	}

	return affected == 1, nil
}

// TimerByID returns the timer or ErrTimerNotFound.
func (p *Persistence) TimerByID(ctx context.Context, id string) (*models.Timer, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+timerColumns+" FROM workflow_timers WHERE id = $1", id)

	timer, err := scanTimer(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &persistence.TimerError{Op: "TimerByID", TimerID: id, Err: persistence.ErrTimerNotFound}
		}

		return nil, &persistence.TimerError{Op: "TimerByID", TimerID: id, Err: err}
	}

	return timer, nil
}

// DueTimers returns due timers ordered by fire time.
func (p *Persistence) DueTimers(ctx context.Context, now time.Time, limit int) ([]*models.Timer, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+timerColumns+`
		FROM workflow_timers
		WHERE NOT cancelled AND NOT fired AND fire_at <= $1
		ORDER BY fire_at, id
		LIMIT $2`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due timers: %w", err)
	}

	defer func() { _ = rows.Close() }()

	timers := make([]*models.Timer, 0)

	for rows.Next() {
		timer, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}

		timers = append(timers, timer)
	}

	return timers, rows.Err()
}

// CancelTimer marks a pending timer cancelled.
func (p *Persistence) CancelTimer(ctx context.Context, id string) (bool, error) {
	return p.updatePending(ctx, "CancelTimer", id,
		"UPDATE workflow_timers SET cancelled = TRUE WHERE id = $1 AND NOT cancelled AND NOT fired")
}

// MarkTimerFired marks a pending timer fired.
func (p *Persistence) MarkTimerFired(ctx context.Context, id string, at time.Time) (bool, error) {
	return p.updatePending(ctx, "MarkTimerFired", id,
		"UPDATE workflow_timers SET fired = TRUE, fired_at = $2 WHERE id = $1 AND NOT cancelled AND NOT fired",
		at.UTC())
}

func (p *Persistence) updatePending(ctx context.Context, op, id, query string, args ...any) (bool, error) {
	result, err := p.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return false, &persistence.TimerError{Op: op, TimerID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, &persistence.TimerError{Op: op, TimerID: id, Err: err}
	}

	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimer(row rowScanner) (*models.Timer, error) {
	var (
		timer   models.Timer
		purpose string
		firedAt sql.NullTime
	)

	err := row.Scan(&timer.ID, &timer.InstanceID, &purpose, &timer.FireAt,
		&timer.Cancelled, &timer.Fired, &firedAt, &timer.CreatedAt)
	if err != nil {
		return nil, err
	}

	timer.Purpose = models.TimerPurpose(purpose)
	timer.FireAt = timer.FireAt.UTC()
	timer.CreatedAt = timer.CreatedAt.UTC()

	if firedAt.Valid {
		at := firedAt.Time.UTC()
		timer.FiredAt = &at
	}

	return &timer, nil
}
