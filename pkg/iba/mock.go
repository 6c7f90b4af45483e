package iba

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/B-Hartley/tunnelflight/pkg/types"
)

// MockPlatform is a testify mock of Platform for use in tests.
type MockPlatform struct {
	mock.Mock
}

var _ Platform = (*MockPlatform)(nil)

func (m *MockPlatform) ApplySettings(ctx context.Context, settings types.Settings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *MockPlatform) Authenticate(ctx context.Context, creds types.Credentials) (types.Credentials, bool, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(types.Credentials), args.Bool(1), args.Error(2)
}

func (m *MockPlatform) FetchMember(ctx context.Context) (types.Member, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Member), args.Error(1)
}

func (m *MockPlatform) FetchLogbook(ctx context.Context) ([]types.LogbookEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.LogbookEntry), args.Error(1)
}

func (m *MockPlatform) FetchTunnels(ctx context.Context) ([]types.Tunnel, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Tunnel), args.Error(1)
}

func (m *MockPlatform) LogFlightTime(ctx context.Context, entry types.TimeEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
