package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/B-Hartley/tunnelflight/pkg/log"
	"github.com/B-Hartley/tunnelflight/pkg/storage"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

// memberFromRequest loads the stored member snapshot for the account named by
// the request.
func (s *Server) memberFromRequest(w http.ResponseWriter, r *http.Request) (types.Member, bool) {
	ctx := r.Context()

	accountID, err := s.accountFromRequest(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return types.Member{}, false
	}

	member, _, err := s.storage.GetMember(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrMemberNotFound) {
			writeJSONError(w, "member not fetched yet", http.StatusNotFound)
			return types.Member{}, false
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get member", slog.String("accountID", accountID), slog.Any("error", err))
		writeJSONError(w, "failed to get member", http.StatusInternalServerError)
		return types.Member{}, false
	}
	return member, true
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, ok := s.memberFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, struct {
		Member types.Member `json:"member"`
		// TotalFlightTime repeats the minutes in the vendor's H:MM display form
		TotalFlightTime      string  `json:"totalFlightTime"`
		TotalFlightTimeHours float64 `json:"totalFlightTimeHours"`
	}{
		Member:               member,
		TotalFlightTime:      member.TotalFlightTime.String(),
		TotalFlightTimeHours: member.TotalFlightTime.HoursDecimal(),
	})
}

func (s *Server) handleGetSkills(w http.ResponseWriter, r *http.Request) {
	member, ok := s.memberFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, struct {
		MemberID   string        `json:"memberID"`
		FlyerLevel int           `json:"flyerLevel"`
		Skills     []types.Skill `json:"skills"`
		FetchedAt  time.Time     `json:"fetchedAt"`
	}{
		MemberID:   member.MemberID,
		FlyerLevel: member.FlyerLevel,
		Skills:     member.Skills,
		FetchedAt:  member.FetchedAt,
	})
}

func (s *Server) handleGetLogbook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID, err := s.accountFromRequest(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := s.storage.GetLogbook(ctx, accountID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get logbook", slog.String("accountID", accountID), slog.Any("error", err))
		writeJSONError(w, "failed to get logbook", http.StatusInternalServerError)
		return
	}

	writeJSON(w, struct {
		Categories []types.LogbookCategory `json:"categories"`
		Total      int                     `json:"total"`
	}{
		Categories: types.GroupLogbook(entries),
		Total:      len(entries),
	})
}
