// Package timer implements durable wake-ups: timers are persisted in a
// due-time index and a single sweeper turns due timers into tasks.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/persistence"
)

const (
	DefaultInterval  = time.Second
	DefaultBatchSize = 100
)

// DispatchFunc hands a due timer to the task queue.
type DispatchFunc func(ctx context.Context, timer *models.Timer) error

// Service schedules, cancels and fires timers.
type Service struct {
	store     persistence.TimerStore
	dispatch  DispatchFunc
	clock     clockwork.Clock
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*Service)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithInterval sets the sweep granularity.
func WithInterval(interval time.Duration) Option {
	return func(s *Service) { s.interval = interval }
}

func WithBatchSize(size int) Option {
	return func(s *Service) { s.batchSize = size }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store persistence.TimerStore, dispatch DispatchFunc, opts ...Option) *Service {
	s := &Service{
		store:     store,
		dispatch:  dispatch,
		clock:     clockwork.NewRealClock(),
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("module", "timer_service")

	return s
}

// Schedule persists a timer keyed by instance and purpose and returns its
// id. Scheduling an existing timer keeps the stored one untouched.
func (s *Service) Schedule(ctx context.Context, instanceID string, purpose models.TimerPurpose, fireAt time.Time) (string, error) {
	timer := &models.Timer{
		ID:         models.TimerID(instanceID, purpose),
		InstanceID: instanceID,
		Purpose:    purpose,
		FireAt:     fireAt.UTC(),
		CreatedAt:  s.clock.Now().UTC(),
	}

	created, err := s.store.SaveTimer(ctx, timer)
	if err != nil {
		return "", fmt.Errorf("failed to schedule timer %s: %w", timer.ID, err)
	}

	if created {
		s.logger.InfoContext(ctx, "timer scheduled", "timer_id", timer.ID, "fire_at", timer.FireAt)
	}

	return timer.ID, nil
}

// Cancel cancels a pending timer. It returns false when the timer is
// unknown, already fired or already cancelled; the error reports storage
// failures only.
func (s *Service) Cancel(ctx context.Context, timerID string) (bool, error) {
	cancelled, err := s.store.CancelTimer(ctx, timerID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel timer %s: %w", timerID, err)
	}

	if cancelled {
		s.logger.InfoContext(ctx, "timer cancelled", "timer_id", timerID)
	}

	return cancelled, nil
}

// Get returns a stored timer.
func (s *Service) Get(ctx context.Context, timerID string) (*models.Timer, error) {
	return s.store.TimerByID(ctx, timerID)
}

// Sweep dispatches every due timer and marks it fired, returning how many
// fired. A timer whose dispatch fails stays pending for the next sweep.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	fired := 0

	for {
		now := s.clock.Now()

		due, err := s.store.DueTimers(ctx, now, s.batchSize)
		if err != nil {
			return fired, fmt.Errorf("failed to load due timers: %w", err)
		}

		progressed := false

		for _, timer := range due {
			err := s.dispatch(ctx, timer)
			if err != nil {
				s.logger.ErrorContext(ctx, "failed to dispatch timer", "timer_id", timer.ID, "error", err)

				continue
			}

			ok, err := s.store.MarkTimerFired(ctx, timer.ID, now)
			if err != nil {
				return fired, fmt.Errorf("failed to mark timer %s fired: %w", timer.ID, err)
			}

			if ok {
				fired++
				progressed = true

				s.logger.InfoContext(ctx, "timer fired", "timer_id", timer.ID, "purpose", timer.Purpose)
			}
		}

		if len(due) < s.batchSize || !progressed {
			return fired, nil
		}
	}
}

// Start runs Sweep on a fixed interval until Stop is called or ctx ends.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	logger := cronLogger{logger: s.logger}
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	_, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		if ctx.Err() != nil {
			return
		}

		_, err := s.Sweep(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "timer sweep failed", "error", err)
		}
	})
	if err != nil {
		s.cron = nil

		return fmt.Errorf("failed to register timer sweeper: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "timer sweeper started", "interval", s.interval)

	return nil
}

// Stop halts the sweeper and waits for a running sweep to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.logger.Info("timer sweeper stopped")
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
