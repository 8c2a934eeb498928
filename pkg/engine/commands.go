package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/jobflow/pkg/eventbus"
	"github.com/dukex/jobflow/pkg/events"
	"github.com/dukex/jobflow/pkg/models"
)

// ConsumeCommands registers handlers for workflow commands on subscriber
// and starts consuming. Commands rejected by validation or by the state
// machine are logged and acknowledged; infrastructure failures are returned
// so the message is redelivered.
func (e *Engine) ConsumeCommands(ctx context.Context, subscriber eventbus.EventSubscriber) error {
	err := subscriber.Handle(events.StartWorkflowCommandEvent, e.handleStartCommand)
	if err != nil {
		return err
	}

	err = subscriber.Handle(events.SignalWorkflowCommandEvent, e.handleSignalCommand)
	if err != nil {
		return err
	}

	return subscriber.Subscribe(ctx)
}

func (e *Engine) handleStartCommand(ctx context.Context, event any) error {
	cmd, ok := event.(*events.StartWorkflowCommand)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	logger := e.logger.With("command_id", cmd.ID, "application_id", cmd.ApplicationID)

	err := cmd.Validate()
	if err != nil {
		logger.WarnContext(ctx, "rejected start command", "error", err)

		return nil
	}

	input, err := models.DecodeApplicationInput(cmd.Input)
	if err != nil {
		logger.WarnContext(ctx, "rejected start command", "error", err)

		return nil
	}

	instanceID, err := e.StartWorkflow(ctx, cmd.ApplicationID, input)
	if err != nil {
		if isRejection(err) {
			logger.WarnContext(ctx, "rejected start command", "error", err)

			return nil
		}

		return err
	}

	logger.InfoContext(ctx, "start command handled", "instance_id", instanceID)

	return nil
}

func (e *Engine) handleSignalCommand(ctx context.Context, event any) error {
	cmd, ok := event.(*events.SignalWorkflowCommand)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	logger := e.logger.With("command_id", cmd.ID, "instance_id", cmd.WorkflowID, "signal", cmd.Signal)

	err := cmd.Validate()
	if err == nil {
		var payload []byte

		payload, err = cmd.SignalPayload()
		if err == nil {
			err = models.ValidateJSON(models.SignalSchema(), payload)
		}
	}

	if err != nil {
		logger.WarnContext(ctx, "rejected signal command", "error", err)

		return nil
	}

	err = e.SignalWorkflow(ctx, cmd.WorkflowID, Signal{
		Type:   SignalType(cmd.Signal),
		Status: models.Status(cmd.Status),
	})
	if err != nil {
		if isRejection(err) {
			logger.WarnContext(ctx, "rejected signal command", "error", err)

			return nil
		}

		return err
	}

	logger.InfoContext(ctx, "signal command handled")

	return nil
}

// isRejection reports whether err is the caller's fault rather than an
// infrastructure failure.
func isRejection(err error) bool {
	return IsNotFound(err) ||
		IsInvalidTransition(err) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidSignal)
}
