package activity

import (
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
)

// ErrTransient marks an activity failure worth retrying: timeouts, 5xx
// responses, rate limits.
var ErrTransient = errors.New("transient activity failure")

// Permanent marks err as non-retryable, e.g. a missing API key. The worker
// records the failure without spending the remaining attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var permanent *backoff.PermanentError

	return errors.As(err, &permanent)
}

// Error is the failure of one activity attempt.
type Error struct {
	Type    Type
	Attempt int
	Err     error
}

func (e *Error) Error() string {
	kind := "transient"
	if IsPermanent(e.Err) {
		kind = "permanent"
	}

	return fmt.Sprintf("%s attempt %d failed (%s): %v", e.Type, e.Attempt, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches ErrTransient for every failure not marked permanent.
func (e *Error) Is(target error) bool {
	return target == ErrTransient && !IsPermanent(e.Err)
}
