package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/B-Hartley/tunnelflight/pkg/storage"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) CreateAccount(ctx context.Context, account types.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockDatabase) UpdateAccount(ctx context.Context, account types.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockDatabase) GetAccount(ctx context.Context, accountID string) (types.Account, error) {
	args := m.Called(ctx, accountID)
	if len(args) > 0 {
		return args.Get(0).(types.Account), args.Error(1)
	}
	return types.Account{}, nil
}

func (m *MockDatabase) ListAccounts(ctx context.Context) ([]types.Account, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		accounts, _ := args.Get(0).([]types.Account)
		return accounts, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) UpsertMember(ctx context.Context, accountID string, member types.Member, version int) error {
	args := m.Called(ctx, accountID, member, version)
	return args.Error(0)
}

func (m *MockDatabase) GetMember(ctx context.Context, accountID string) (types.Member, int, error) {
	args := m.Called(ctx, accountID)
	if len(args) > 0 {
		return args.Get(0).(types.Member), args.Int(1), args.Error(2)
	}
	return types.Member{}, 0, nil
}

func (m *MockDatabase) SetLogbook(ctx context.Context, accountID string, entries []types.LogbookEntry, version int) error {
	args := m.Called(ctx, accountID, entries, version)
	return args.Error(0)
}

func (m *MockDatabase) GetLogbook(ctx context.Context, accountID string) ([]types.LogbookEntry, error) {
	args := m.Called(ctx, accountID)
	if len(args) > 0 {
		entries, _ := args.Get(0).([]types.LogbookEntry)
		return entries, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
