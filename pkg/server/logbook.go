package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/B-Hartley/tunnelflight/pkg/log"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

const maxLogMinutes = 120

// handleLogTime writes a flight time entry to the member's logbook on the
// platform.
func (s *Server) handleLogTime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Account   string `json:"account"`
		TunnelID  int    `json:"tunnelID"`
		Minutes   int    `json:"minutes"`
		Comment   string `json:"comment"`
		EntryDate string `json:"entryDate"` // YYYY-MM-DD, defaults to today
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if req.Minutes < 1 || req.Minutes > maxLogMinutes {
		writeJSONError(w, "minutes must be between 1 and 120", http.StatusBadRequest)
		return
	}
	if req.TunnelID <= 0 {
		writeJSONError(w, "tunnelID is required", http.StatusBadRequest)
		return
	}

	accountID := req.Account
	if accountID == "" {
		var err error
		if accountID, err = s.accountFromRequest(r); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	entryDate := time.Now()
	if req.EntryDate != "" {
		var err error
		entryDate, err = time.Parse("2006-01-02", req.EntryDate)
		if err != nil {
			writeJSONError(w, "invalid entryDate, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	platform, _, err := s.authedPlatform(ctx, accountID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get platform session", slog.String("accountID", accountID), slog.Any("error", err))
		writeJSONError(w, "failed to log in to platform", http.StatusBadGateway)
		return
	}

	entry := types.TimeEntry{
		TunnelID:   req.TunnelID,
		TunnelName: s.directory.ResolveName(ctx, req.TunnelID),
		Minutes:    req.Minutes,
		Comment:    req.Comment,
		EntryDate:  entryDate,
	}
	if err := platform.LogFlightTime(ctx, entry); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to log flight time", slog.String("accountID", accountID), slog.Any("error", err))
		writeJSONError(w, "failed to log flight time", http.StatusBadGateway)
		return
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"flight time logged",
		slog.String("accountID", accountID),
		slog.Int("tunnelID", req.TunnelID),
		slog.Int("minutes", req.Minutes),
	)

	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"entry":  entry,
	})
}
