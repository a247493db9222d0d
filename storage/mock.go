package storage

import (
	"context"

	"github.com/ruteri/world-registry/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockProtocolStore mocks the ProtocolStore interface
type MockProtocolStore struct {
	mock.Mock
}

// QueryProtocols mocks the QueryProtocols method
func (m *MockProtocolStore) QueryProtocols(ctx context.Context, query interfaces.ProtocolsQuery) ([]interfaces.ProtocolEntry, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.ProtocolEntry), args.Error(1)
}

// RegisterProtocol mocks the RegisterProtocol method
func (m *MockProtocolStore) RegisterProtocol(ctx context.Context, msg interfaces.ProtocolsConfigure) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// Name mocks the Name method
func (m *MockProtocolStore) Name() string {
	return "mock"
}
