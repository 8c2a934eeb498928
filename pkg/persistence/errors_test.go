package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/jobflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		notFound := persistence.NewInstanceError("Read", "app-1", persistence.ErrInstanceNotFound)
		conflict := persistence.NewConcurrentModificationError("app-1", 2, 3)
		timerErr := &persistence.TimerError{Op: "Cancel", TimerID: "app-1/DeadlineReminder", Err: persistence.ErrTimerNotFound}

		assert.True(t, persistence.IsInstanceNotFound(notFound))
		assert.True(t, persistence.IsConcurrentModification(conflict))
		assert.True(t, persistence.IsTimerNotFound(timerErr))
		assert.False(t, persistence.IsConcurrentModification(notFound))

		wrapped := fmt.Errorf("commit: %w", conflict)
		assert.True(t, errors.Is(wrapped, persistence.ErrConcurrentModification))
	})

	t.Run("concurrent modification error contains versions", func(t *testing.T) {
		err := persistence.NewConcurrentModificationError("app-1", 2, 3)

		assert.Contains(t, err.Error(), "Append")
		assert.Contains(t, err.Error(), "app-1")
		assert.Contains(t, err.Error(), "expected version 2, found 3")
	})

	t.Run("instance error contains context", func(t *testing.T) {
		err := persistence.NewInstanceError("Read", "app-9", persistence.ErrInstanceNotFound)

		assert.Contains(t, err.Error(), "Read")
		assert.Contains(t, err.Error(), "app-9")
		assert.Contains(t, err.Error(), "workflow instance not found")
	})
}
