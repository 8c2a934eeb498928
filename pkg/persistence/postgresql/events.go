package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/persistence"
)

const uniqueViolation = "23505"

// Append inserts events after expectedVersion in one transaction. The
// (instance_id, sequence_number) primary key rejects a concurrent writer
// that read the same version.
func (p *Persistence) Append(ctx context.Context, instanceID string, expectedVersion int64, events ...models.Event) (int64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistence.NewInstanceError("Append", instanceID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() { _ = tx.Rollback() }()

	var current int64

	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence_number), 0) FROM workflow_events WHERE instance_id = $1",
		instanceID,
	).Scan(&current)
	if err != nil {
		return 0, persistence.NewInstanceError("Append", instanceID, fmt.Errorf("failed to read version: %w", err))
	}

	if current != expectedVersion {
		return 0, persistence.NewConcurrentModificationError(instanceID, expectedVersion, current)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO workflow_events (instance_id, sequence_number, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return 0, persistence.NewInstanceError("Append", instanceID, fmt.Errorf("failed to prepare insert: %w", err))
	}

	defer func() { _ = stmt.Close() }()

	seq := current

	for _, event := range events {
		seq++

		var payload any
		if len(event.Payload) > 0 {
			payload = string(event.Payload)
		}

		_, err = stmt.ExecContext(ctx, instanceID, seq, string(event.Kind), payload, event.Timestamp.UTC())
		if err != nil {
			return 0, p.appendError(instanceID, expectedVersion, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return 0, p.appendError(instanceID, expectedVersion, err)
	}

	return seq, nil
}

func (p *Persistence) appendError(instanceID string, expectedVersion int64, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return persistence.NewConcurrentModificationError(instanceID, expectedVersion, expectedVersion+1)
	}

	return persistence.NewInstanceError("Append", instanceID, err)
}

// Read returns the full history of an instance.
func (p *Persistence) Read(ctx context.Context, instanceID string) ([]models.Event, error) {
	return p.ReadFrom(ctx, instanceID, 0)
}

// ReadFrom returns the events committed after afterSeq.
func (p *Persistence) ReadFrom(ctx context.Context, instanceID string, afterSeq int64) ([]models.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT sequence_number, kind, payload, created_at
		FROM workflow_events
		WHERE instance_id = $1 AND sequence_number > $2
		ORDER BY sequence_number`,
		instanceID, afterSeq,
	)
	if err != nil {
		return nil, persistence.NewInstanceError("Read", instanceID, err)
	}

	defer func() { _ = rows.Close() }()

	events := make([]models.Event, 0)

	for rows.Next() {
		var (
			event   models.Event
			kind    string
			payload []byte
		)

		err := rows.Scan(&event.SequenceNumber, &kind, &payload, &event.Timestamp)
		if err != nil {
			return nil, persistence.NewInstanceError("Read", instanceID, fmt.Errorf("failed to scan event: %w", err))
		}

		event.Kind = models.EventKind(kind)
		event.Payload = payload
		event.Timestamp = event.Timestamp.UTC()
		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewInstanceError("Read", instanceID, err)
	}

	return events, nil
}

// Instances lists every instance with at least one committed event.
func (p *Persistence) Instances(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT DISTINCT instance_id FROM workflow_events ORDER BY instance_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)

	for rows.Next() {
		var id string

		err := rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance id: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
