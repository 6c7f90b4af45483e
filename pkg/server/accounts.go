package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/B-Hartley/tunnelflight/pkg/log"
	"github.com/B-Hartley/tunnelflight/pkg/storage"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

type accountResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// handleCreateAccount registers a new platform account. The credentials are
// validated by logging in before anything is stored, and are encrypted at
// rest. They are never echoed back.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Username == "" || req.Password == "" {
		writeJSONError(w, "username and password are required", http.StatusBadRequest)
		return
	}

	settings, _, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	accountID := req.Username
	creds := types.Credentials{
		Tunnelflight: &types.TunnelflightCredentials{
			Username: req.Username,
			Password: req.Password,
		},
	}

	platform, err := s.platforms.Account(ctx, accountID, settings)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get platform", slog.Any("error", err))
		writeJSONError(w, "failed to get platform", http.StatusInternalServerError)
		return
	}

	newCreds, updated, err := platform.Authenticate(ctx, creds)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "account validation failed", slog.String("accountID", accountID), slog.Any("error", err))
		writeJSONError(w, "login failed, check username and password", http.StatusUnauthorized)
		return
	}
	if updated {
		creds = newCreds
	}

	encrypted, err := s.encryptCredentials(ctx, creds)
	if err != nil {
		writeJSONError(w, "failed to encrypt credentials", http.StatusInternalServerError)
		return
	}

	account := types.Account{
		ID:                   accountID,
		Username:             req.Username,
		Name:                 req.Name,
		EncryptedCredentials: encrypted,
		CreatedAt:            time.Now().UTC(),
	}
	if err := s.storage.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			writeJSONError(w, "account already registered", http.StatusConflict)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to create account", slog.Any("error", err))
		writeJSONError(w, "failed to create account", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "account registered", slog.String("accountID", accountID))

	// schedule periodic refreshes, which also triggers the first fetch
	s.refresher.Register(accountID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(accountResponse{
		ID:        account.ID,
		Username:  account.Username,
		Name:      account.Name,
		CreatedAt: account.CreatedAt,
	}); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := s.storage.ListAccounts(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list accounts", slog.Any("error", err))
		writeJSONError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}

	res := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		res = append(res, accountResponse{
			ID:        a.ID,
			Username:  a.Username,
			Name:      a.Name,
			CreatedAt: a.CreatedAt,
		})
	}
	writeJSON(w, struct {
		Accounts []accountResponse `json:"accounts"`
	}{Accounts: res})
}

// accountFromRequest resolves the account query param, defaulting to the only
// registered account when there is exactly one.
func (s *Server) accountFromRequest(r *http.Request) (string, error) {
	accountID := r.URL.Query().Get("account")
	if accountID != "" {
		return accountID, nil
	}
	accounts, err := s.storage.ListAccounts(r.Context())
	if err != nil {
		return "", err
	}
	if len(accounts) == 1 {
		return accounts[0].ID, nil
	}
	return "", errors.New("account parameter required")
}
