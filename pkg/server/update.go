package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/B-Hartley/tunnelflight/pkg/iba"
	"github.com/B-Hartley/tunnelflight/pkg/log"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

// getSettingsWithMigration loads the stored settings, migrating them to the
// current version when needed.
func (s *Server) getSettingsWithMigration(ctx context.Context) (types.Settings, int, error) {
	settings, version, err := s.storage.GetSettings(ctx)
	if err != nil {
		return types.Settings{}, 0, err
	}

	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but return settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			settings = newSettings
			version = types.CurrentSettingsVersion
			if err := s.storage.SetSettings(ctx, newSettings, types.CurrentSettingsVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
				// Return migrated settings even if save failed, so current request works with new defaults
			}
		}
	}

	return settings, version, nil
}

// authedPlatform returns an authenticated platform session for the account,
// persisting any credentials the platform rotated (session token, discovered
// member ID).
func (s *Server) authedPlatform(ctx context.Context, accountID string) (iba.Platform, types.Settings, error) {
	settings, _, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		return nil, types.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}

	account, err := s.storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, types.Settings{}, fmt.Errorf("failed to get account: %w", err)
	}

	creds, err := s.decryptCredentials(ctx, account.EncryptedCredentials)
	if err != nil {
		return nil, types.Settings{}, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	platform, err := s.platforms.Account(ctx, accountID, settings)
	if err != nil {
		return nil, types.Settings{}, fmt.Errorf("failed to get platform: %w", err)
	}

	newCreds, updated, err := platform.Authenticate(ctx, creds)
	if err != nil {
		return nil, types.Settings{}, fmt.Errorf("failed to authenticate: %w", err)
	}
	if updated {
		log.Ctx(ctx).DebugContext(ctx, "credentials updated by platform", slog.String("accountID", accountID))
		encrypted, err := s.encryptCredentials(ctx, newCreds)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to encrypt updated credentials", slog.Any("error", err))
		} else {
			account.EncryptedCredentials = encrypted
			if err := s.storage.UpdateAccount(ctx, account); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to save updated credentials", slog.Any("error", err))
			}
		}
	}

	return platform, settings, nil
}

// refreshAccount fetches the member snapshot and logbook for the account and
// stores them. It is the pipeline run by the scheduler and by /api/update.
func (s *Server) refreshAccount(ctx context.Context, accountID string) error {
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("refreshAccountID", accountID)))

	platform, _, err := s.authedPlatform(ctx, accountID)
	if err != nil {
		return err
	}

	member, err := platform.FetchMember(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch member: %w", err)
	}
	if err := s.storage.UpsertMember(ctx, accountID, member, types.CurrentMemberVersion); err != nil {
		return fmt.Errorf("failed to store member: %w", err)
	}

	entries, err := platform.FetchLogbook(ctx)
	if err != nil {
		// the snapshot was stored, a logbook failure shouldn't fail the whole
		// refresh
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch logbook", slog.Any("error", err))
		return nil
	}
	if err := s.storage.SetLogbook(ctx, accountID, entries, types.CurrentLogbookVersion); err != nil {
		return fmt.Errorf("failed to store logbook: %w", err)
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"account refreshed",
		slog.String("memberID", member.MemberID),
		slog.Int("logbookEntries", len(entries)),
	)
	return nil
}

// fetchTunnels feeds the tunnel directory using the first registered
// account's session, since the tunnel list requires a login.
func (s *Server) fetchTunnels(ctx context.Context) ([]types.Tunnel, error) {
	accounts, err := s.storage.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, errors.New("no accounts registered")
	}

	platform, _, err := s.authedPlatform(ctx, accounts[0].ID)
	if err != nil {
		return nil, err
	}
	return platform.FetchTunnels(ctx)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Account string `json:"account"`
	}
	if r.Body != nil {
		// the body is optional, scheduler posts without one
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}

	settings, _, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	s.refresher.ApplySettings(settings)
	s.directory.ApplySettings(settings)

	if settings.Pause {
		log.Ctx(ctx).InfoContext(ctx, "update: paused")
		// We return 200 OK so the scheduler doesn't think it failed
		writeJSON(w, map[string]interface{}{
			"status": "paused",
		})
		return
	}

	var accountIDs []string
	if req.Account != "" {
		accountIDs = []string{req.Account}
	} else {
		accounts, err := s.storage.ListAccounts(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to list accounts", slog.Any("error", err))
			writeJSONError(w, "failed to list accounts", http.StatusInternalServerError)
			return
		}
		for _, a := range accounts {
			accountIDs = append(accountIDs, a.ID)
		}
	}

	var refreshed, failed int
	for _, id := range accountIDs {
		if err := s.refreshAccount(ctx, id); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "refresh failed", slog.String("accountID", id), slog.Any("error", err))
			failed++
			continue
		}
		refreshed++
	}

	writeJSON(w, map[string]interface{}{
		"status":    "success",
		"refreshed": refreshed,
		"failed":    failed,
	})
}
