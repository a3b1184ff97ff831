package mocks

import (
	"context"

	"github.com/dukex/responder/pkg/audit"
	"github.com/dukex/responder/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockAuditStore is a mock implementation of both audit.Sink and audit.Reader.
type MockAuditStore struct {
	mock.Mock
}

var (
	_ audit.Sink   = (*MockAuditStore)(nil)
	_ audit.Reader = (*MockAuditStore)(nil)
)

func (m *MockAuditStore) Write(ctx context.Context, entry models.AuditEntry) error {
	args := m.Called(ctx, entry)

	return args.Error(0)
}

func (m *MockAuditStore) Entries(ctx context.Context, query audit.Query) ([]models.AuditEntry, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.AuditEntry), args.Error(1)
}

func (m *MockAuditStore) Close() error {
	args := m.Called()

	return args.Error(0)
}
