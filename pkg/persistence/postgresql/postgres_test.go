package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/persistence"
	"github.com/dukex/jobflow/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"workflow_timers", "workflow_events", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("jobflow_test"),
			postgres.WithUsername("jobflow"),
			postgres.WithPassword("jobflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func event(t *testing.T, kind models.EventKind, payload any) models.Event {
	t.Helper()

	e, err := models.NewEvent(kind, payload, time.Now())
	require.NoError(t, err)

	return e
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestPersistence_AppendAndRead(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	started := event(t, models.EventStarted, models.StartedPayload{ApplicationID: "app-1"})

	seq, err := p.Append(ctx, "app-1", 0, started, event(t, models.EventCoverLetterRequested, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	_, err = p.Append(ctx, "app-1", 1, event(t, models.EventArchived, nil))
	require.Error(t, err)
	assert.True(t, persistence.IsConcurrentModification(err))

	events, err := p.Read(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].SequenceNumber)
	assert.Equal(t, models.EventStarted, events[0].Kind)

	var payload models.StartedPayload
	require.NoError(t, events[0].Decode(&payload))
	assert.Equal(t, "app-1", payload.ApplicationID)
	assert.Empty(t, events[1].Payload)

	tail, err := p.ReadFrom(ctx, "app-1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(2), tail[0].SequenceNumber)

	ids, err := p.Instances(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-1"}, ids)
}

func TestPersistence_ConcurrentAppendOneWins(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	_, err := p.Append(ctx, "app-1", 0, event(t, models.EventStarted, nil))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		results = make(chan error, 2)
	)

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := p.Append(ctx, "app-1", 1, event(t, models.EventStatusChanged, nil))
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	var wins, conflicts int

	for err := range results {
		switch {
		case err == nil:
			wins++
		case persistence.IsConcurrentModification(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestPersistence_Timers(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	timer := &models.Timer{
		ID:         models.TimerID("app-1", models.TimerDeadlineReminder),
		InstanceID: "app-1",
		Purpose:    models.TimerDeadlineReminder,
		FireAt:     now.Add(-time.Second),
		CreatedAt:  now,
	}

	created, err := p.SaveTimer(ctx, timer)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = p.SaveTimer(ctx, timer)
	require.NoError(t, err)
	assert.False(t, created)

	due, err := p.DueTimers(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, timer.ID, due[0].ID)

	fired, err := p.MarkTimerFired(ctx, timer.ID, now)
	require.NoError(t, err)
	assert.True(t, fired)

	cancelled, err := p.CancelTimer(ctx, timer.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	stored, err := p.TimerByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.True(t, stored.Fired)
	require.NotNil(t, stored.FiredAt)

	due, err = p.DueTimers(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = p.TimerByID(ctx, "missing")
	assert.True(t, persistence.IsTimerNotFound(err))
}
