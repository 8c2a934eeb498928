// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrInstanceNotFound indicates no events were ever committed for the given instance.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrConcurrentModification indicates the expected version passed to Append is stale.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrTimerNotFound indicates a timer was not found by the given identifier.
	ErrTimerNotFound = errors.New("timer not found")
)

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op              string // Operation being performed (e.g., "Append", "Read")
	InstanceID      string
	ExpectedVersion int64
	ActualVersion   int64
	Err             error
}

func (e *InstanceError) Error() string {
	if errors.Is(e.Err, ErrConcurrentModification) {
		return fmt.Sprintf("%s operation failed for instance %s: expected version %d, found %d: %v",
			e.Op, e.InstanceID, e.ExpectedVersion, e.ActualVersion, e.Err)
	}

	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for instance errors.
func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		InstanceID: instanceID,
		Err:        err,
	}
}

// NewConcurrentModificationError reports a failed optimistic concurrency check.
func NewConcurrentModificationError(instanceID string, expected, actual int64) *InstanceError {
	return &InstanceError{
		Op:              "Append",
		InstanceID:      instanceID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
		Err:             ErrConcurrentModification,
	}
}

// TimerError wraps timer-related errors with additional context.
type TimerError struct {
	Op      string
	TimerID string
	Err     error
}

func (e *TimerError) Error() string {
	return fmt.Sprintf("%s operation failed for timer %s: %v", e.Op, e.TimerID, e.Err)
}

func (e *TimerError) Unwrap() error {
	return e.Err
}

func (e *TimerError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsConcurrentModification checks if an error indicates a stale expected version.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsTimerNotFound checks if an error indicates a timer was not found.
func IsTimerNotFound(err error) bool {
	return errors.Is(err, ErrTimerNotFound)
}
