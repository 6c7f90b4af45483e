package server

import (
	"log/slog"
	"net/http"

	"github.com/B-Hartley/tunnelflight/pkg/log"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

func (s *Server) handleListTunnels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	term := r.URL.Query().Get("search")
	country := r.URL.Query().Get("country")

	tunnels, total, err := s.directory.Search(ctx, term, country)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "tunnel search failed", slog.Any("error", err))
		writeJSONError(w, "failed to search tunnels", http.StatusBadGateway)
		return
	}

	writeJSON(w, struct {
		Tunnels []types.Tunnel `json:"tunnels"`
		Total   int            `json:"total"`
	}{Tunnels: tunnels, Total: total})
}

func (s *Server) handleListCountries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	countries, err := s.directory.Countries(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list countries", slog.Any("error", err))
		writeJSONError(w, "failed to list countries", http.StatusBadGateway)
		return
	}

	writeJSON(w, struct {
		Countries []string `json:"countries"`
	}{Countries: countries})
}
