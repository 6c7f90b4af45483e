// Package storage persists accounts, member snapshots, logbook entries and
// settings.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/B-Hartley/tunnelflight/pkg/types"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrMemberNotFound  = errors.New("member snapshot not found")
	ErrAccountExists   = errors.New("account already exists")
)

// Database defines the interface for persisting data and retrieving settings.
type Database interface {
	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Accounts
	CreateAccount(ctx context.Context, account types.Account) error
	UpdateAccount(ctx context.Context, account types.Account) error
	GetAccount(ctx context.Context, accountID string) (types.Account, error)
	ListAccounts(ctx context.Context) ([]types.Account, error)

	// Member snapshots
	UpsertMember(ctx context.Context, accountID string, member types.Member, version int) error
	GetMember(ctx context.Context, accountID string) (types.Member, int, error)

	// Logbook
	SetLogbook(ctx context.Context, accountID string, entries []types.LogbookEntry, version int) error
	GetLogbook(ctx context.Context, accountID string) ([]types.LogbookEntry, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
