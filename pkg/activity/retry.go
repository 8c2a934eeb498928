package activity

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often and how fast a failing activity is retried.
// Retries are durable: the worker hands the task back to the queue with the
// computed delay instead of sleeping.
type RetryPolicy struct {
	InitialInterval     time.Duration
	Multiplier          float64
	MaxInterval         time.Duration
	MaxAttempts         int
	RandomizationFactor float64
}

// DefaultRetryPolicy retries up to five attempts, starting at one second and
// doubling up to a minute, with 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     time.Second,
		Multiplier:          2,
		MaxInterval:         time.Minute,
		MaxAttempts:         5,
		RandomizationFactor: 0.2,
	}
}

// Exhausted reports whether attempt, counted from 1, was the last one allowed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Delay returns how long to wait after the given failed attempt, counted
// from 1, before trying again.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.RandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
	b.Reset()

	delay := p.InitialInterval
	for range max(attempt, 1) {
		delay = b.NextBackOff()
	}

	if delay > p.MaxInterval {
		delay = p.MaxInterval
	}

	return delay
}
