package types

import (
	"fmt"
	"time"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 2

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Pause updates
	Pause bool `json:"pause"`

	// How often each account is refreshed (in minutes)
	RefreshIntervalMinutes int `json:"refreshIntervalMinutes"`

	// Backoff bounds for failed refreshes (in minutes)
	BackoffMinMinutes int `json:"backoffMinMinutes"`
	BackoffMaxMinutes int `json:"backoffMaxMinutes"`

	// How long the tunnel directory is considered fresh (in hours)
	TunnelCacheTTLHours int `json:"tunnelCacheTTLHours"`
}

// RefreshInterval returns the refresh interval as a duration.
func (s Settings) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalMinutes) * time.Minute
}

// Account is a stored platform login whose credentials are encrypted at rest.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	// Name is a display label chosen when the account was added
	Name                 string    `json:"name,omitempty"`
	EncryptedCredentials []byte    `json:"encryptedCredentials,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Credentials for external systems
type Credentials struct {
	Tunnelflight *TunnelflightCredentials `json:"tunnelflight,omitempty"`
}

// Credentials for the Tunnelflight platform
type TunnelflightCredentials struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	// Token is the session token from the most recent login. The cookie jar
	// carries the actual session; the token is persisted only because the
	// site rotates it on every login.
	Token string `json:"token,omitempty"`
	// MemberID is cached after the first profile fetch since the card
	// endpoint is the only place it appears.
	MemberID string `json:"memberID,omitempty"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.RefreshIntervalMinutes == 0 {
				s.RefreshIntervalMinutes = 360
				migrated = true
			}
			if s.BackoffMinMinutes == 0 {
				s.BackoffMinMinutes = 5
				migrated = true
			}
			if s.TunnelCacheTTLHours == 0 {
				s.TunnelCacheTTLHours = 24
				migrated = true
			}
		case 2:
			// version 2: add a backoff ceiling
			if s.BackoffMaxMinutes == 0 {
				s.BackoffMaxMinutes = 60
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
