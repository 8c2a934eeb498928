package workflow

import (
	"errors"
	"fmt"

	"github.com/dukex/jobflow/pkg/models"
)

// ErrInvalidTransition is returned when the current state disallows a transition.
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	Op     string
	From   models.Status
	To     models.Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("%s: cannot move from %s to %s: %s", e.Op, e.From, e.To, e.Reason)
	}

	return fmt.Sprintf("%s: not allowed in state %s: %s", e.Op, e.From, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsInvalidTransition checks if an error is a rejected transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
