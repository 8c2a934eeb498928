package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/jobflow/pkg/engine"
	"github.com/dukex/jobflow/pkg/models"
)

// MockWorkflows is a mock implementation of the workflow boundary served by
// the HTTP handlers.
type MockWorkflows struct {
	mock.Mock
}

func (m *MockWorkflows) StartWorkflow(ctx context.Context, applicationID string, input models.ApplicationInput) (string, error) {
	args := m.Called(ctx, applicationID, input)

	return args.String(0), args.Error(1)
}

func (m *MockWorkflows) SignalWorkflow(ctx context.Context, instanceID string, signal engine.Signal) error {
	args := m.Called(ctx, instanceID, signal)

	return args.Error(0)
}

func (m *MockWorkflows) QueryWorkflow(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	args := m.Called(ctx, instanceID)

	inst, _ := args.Get(0).(*models.WorkflowInstance)

	return inst, args.Error(1)
}

func (m *MockWorkflows) GetCoverLetter(ctx context.Context, instanceID string) (string, error) {
	args := m.Called(ctx, instanceID)

	return args.String(0), args.Error(1)
}

func (m *MockWorkflows) ListWorkflows(ctx context.Context) ([]*models.WorkflowInstance, error) {
	args := m.Called(ctx)

	list, _ := args.Get(0).([]*models.WorkflowInstance)

	return list, args.Error(1)
}

func (m *MockWorkflows) History(ctx context.Context, instanceID string) ([]models.Event, error) {
	args := m.Called(ctx, instanceID)

	history, _ := args.Get(0).([]models.Event)

	return history, args.Error(1)
}

// MockHealthChecker is a mock implementation of a persistence health check.
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
