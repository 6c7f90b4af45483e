package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/B-Hartley/tunnelflight/pkg/storage"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

func testMember() types.Member {
	return types.Member{
		MemberID:        "1234",
		Name:            "Test Flyer",
		Country:         "United Kingdom",
		FlyerLevel:      2,
		FlyerCurrency:   types.CurrencyCurrent,
		CoachCurrency:   types.CurrencyUnknown,
		ExpiryDate:      "2025-12-31",
		TotalFlightTime: types.FlightTime(214),
		FetchedAt:       time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
		Skills: []types.Skill{
			{Name: "Level 1", Level: 1, Status: types.SkillStatusPassed, Raw: "Yes"},
			{Name: "Static", Level: 2, Status: types.SkillStatusPassed, Raw: "Level 2"},
			{Name: "Dynamic", Level: 1, Status: types.SkillStatusPassed},
			{Name: "Formation", Level: 1, Status: types.SkillStatusPending, Pending: true},
		},
	}
}

func TestGetMember(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		env := newTestEnv(t)
		env.db.On("GetMember", mock.Anything, "acct1").Return(testMember(), types.CurrentMemberVersion, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/member?account=acct1", nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res struct {
			Member               types.Member `json:"member"`
			TotalFlightTime      string       `json:"totalFlightTime"`
			TotalFlightTimeHours float64      `json:"totalFlightTimeHours"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, "1234", res.Member.MemberID)
		assert.Equal(t, "2025-12-31", res.Member.ExpiryDate)
		assert.Equal(t, "3:34", res.TotalFlightTime)
		assert.Equal(t, 3.57, res.TotalFlightTimeHours)
	})

	t.Run("DefaultsToOnlyAccount", func(t *testing.T) {
		env := newTestEnv(t)
		env.db.On("ListAccounts", mock.Anything).Return([]types.Account{{ID: "acct1"}}, nil)
		env.db.On("GetMember", mock.Anything, "acct1").Return(testMember(), types.CurrentMemberVersion, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/member", nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("AmbiguousAccount", func(t *testing.T) {
		env := newTestEnv(t)
		env.db.On("ListAccounts", mock.Anything).Return([]types.Account{{ID: "a"}, {ID: "b"}}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/member", nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "account parameter required")
	})

	t.Run("NotFetchedYet", func(t *testing.T) {
		env := newTestEnv(t)
		env.db.On("GetMember", mock.Anything, "acct1").Return(types.Member{}, 0, storage.ErrMemberNotFound)

		req := httptest.NewRequest(http.MethodGet, "/api/member?account=acct1", nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetSkills(t *testing.T) {
	env := newTestEnv(t)
	env.db.On("GetMember", mock.Anything, "acct1").Return(testMember(), types.CurrentMemberVersion, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/member/skills?account=acct1", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		MemberID   string        `json:"memberID"`
		FlyerLevel int           `json:"flyerLevel"`
		Skills     []types.Skill `json:"skills"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "1234", res.MemberID)
	assert.Equal(t, 2, res.FlyerLevel)
	require.Len(t, res.Skills, 4)
	assert.Equal(t, types.SkillStatusPending, res.Skills[3].Status)
}

func TestGetLogbook(t *testing.T) {
	env := newTestEnv(t)
	env.db.On("GetLogbook", mock.Anything, "acct1").Return([]types.LogbookEntry{
		{EntryID: "e1", SkillName: "Belly Hover", Category: "Static", Status: "open"},
		{EntryID: "e2", SkillName: "Back Fly", Category: "Dynamic", Status: "open"},
		{EntryID: "e3", SkillName: "Sit Fly", Category: "Static", Status: "suspended"},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/member/logbook?account=acct1", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Categories []types.LogbookCategory `json:"categories"`
		Total      int                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Categories, 2)
	assert.Equal(t, "Static", res.Categories[0].Name)
	assert.Len(t, res.Categories[0].Entries, 2)
	assert.Equal(t, "Dynamic", res.Categories[1].Name)
}
