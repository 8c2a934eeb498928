package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/jobflow/pkg/persistence"
	"github.com/dukex/jobflow/pkg/workflow"
)

var (
	// ErrNotFound is returned for unknown instance ids.
	ErrNotFound = persistence.ErrInstanceNotFound
	// ErrInvalidTransition is returned for signals the current state rejects.
	ErrInvalidTransition = workflow.ErrInvalidTransition
	// ErrCoverLetterNotAvailable is returned while no cover letter exists.
	ErrCoverLetterNotAvailable = errors.New("cover letter not available")
	// ErrInvalidSignal is returned for malformed signals.
	ErrInvalidSignal = errors.New("invalid signal")
	// ErrInvalidInput is returned for submissions that fail validation.
	ErrInvalidInput = errors.New("invalid application input")
)

// retryError asks the worker to hand the task back to the queue.
type retryError struct {
	after time.Duration
	err   error
}

func (e *retryError) Error() string {
	return fmt.Sprintf("retry in %s: %v", e.after, e.err)
}

func (e *retryError) Unwrap() error {
	return e.err
}

func retryAfter(after time.Duration, err error) error {
	return &retryError{after: after, err: err}
}

// IsNotFound reports whether err is caused by an unknown instance.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
