package mocks

import (
	"context"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

var _ persistence.Persistence = (*MockPersistence)(nil)

func (m *MockPersistence) SaveRun(ctx context.Context, run *models.WorkflowRun) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockPersistence) RunByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockPersistence) Runs(ctx context.Context, opts persistence.ListRunsOptions) (*persistence.RunListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.RunListResult), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
