// Package iba talks to the Tunnelflight (IBA) membership platform on behalf
// of registered accounts.
package iba

import (
	"context"
	"sync"

	"github.com/levenlabs/go-lflag"

	"github.com/B-Hartley/tunnelflight/pkg/types"
)

// Platform defines the interface for interacting with a membership platform
// account session.
type Platform interface {
	// ApplySettings updates the platform using the provided global settings.
	ApplySettings(ctx context.Context, settings types.Settings) error

	// Authenticate validates the credentials and returns updated credentials
	// along with a bool indicating if the credentials were updated (for
	// example a rotated session token or a newly discovered member ID).
	// Avoid updating any caches/state until the sent credentials are
	// valid/successful. This should be called AFTER ApplySettings.
	Authenticate(ctx context.Context, creds types.Credentials) (types.Credentials, bool, error)

	// FetchMember returns the flattened member profile.
	FetchMember(ctx context.Context) (types.Member, error)

	// FetchLogbook returns the member's open/suspended skill entries.
	FetchLogbook(ctx context.Context) ([]types.LogbookEntry, error)

	// FetchTunnels returns the platform's tunnel list.
	FetchTunnels(ctx context.Context) ([]types.Tunnel, error)

	// LogFlightTime writes a new flight time entry to the member logbook.
	LogFlightTime(ctx context.Context, entry types.TimeEntry) error
}

// Configured sets up the platform Map based on flags.
func Configured() *Map {
	baseURL := lflag.String("tunnelflight-base-url", "https://www.tunnelflight.com", "Base URL for the Tunnelflight website")

	m := NewMap()
	lflag.Do(func() {
		m.baseURL = *baseURL
	})
	return m
}

// Map manages one platform session per registered account.
type Map struct {
	mu        sync.Mutex
	baseURL   string
	platforms map[string]Platform
}

// NewMap creates a new platform Map.
func NewMap() *Map {
	return &Map{
		platforms: make(map[string]Platform),
	}
}

// Account returns the platform for the given accountID.
// If the accountID is new, it creates a new session instance.
func (m *Map) Account(ctx context.Context, accountID string, settings types.Settings) (Platform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.platforms[accountID]; ok {
		if err := p.ApplySettings(ctx, settings); err != nil {
			return nil, err
		}
		return p, nil
	}

	p := newTunnelflight(m.baseURL)
	if err := p.ApplySettings(ctx, settings); err != nil {
		return nil, err
	}
	m.platforms[accountID] = p
	return p, nil
}

// SetPlatform sets the platform for a specific account. This is primarily used for testing.
func (m *Map) SetPlatform(accountID string, p Platform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platforms[accountID] = p
}
