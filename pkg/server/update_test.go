package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/B-Hartley/tunnelflight/pkg/types"
)

func TestUpdate(t *testing.T) {
	t.Run("RefreshesAllAccounts", func(t *testing.T) {
		env := newTestEnv(t)
		account := storedAccount(t, env, "acct1")

		env.db.On("GetSettings", mock.Anything).Return(currentSettings(), types.CurrentSettingsVersion, nil)
		env.db.On("ListAccounts", mock.Anything).Return([]types.Account{account}, nil)
		env.db.On("GetAccount", mock.Anything, "acct1").Return(account, nil)
		env.platform.On("ApplySettings", mock.Anything, mock.Anything).Return(nil)
		env.platform.On("Authenticate", mock.Anything, mock.Anything).Return(types.Credentials{}, false, nil)
		env.platform.On("FetchMember", mock.Anything).Return(testMember(), nil)
		env.platform.On("FetchLogbook", mock.Anything).Return([]types.LogbookEntry{
			{EntryID: "e1", SkillName: "Belly Hover"},
		}, nil)
		env.db.On("UpsertMember", mock.Anything, "acct1", mock.Anything, types.CurrentMemberVersion).Return(nil)
		env.db.On("SetLogbook", mock.Anything, "acct1", mock.Anything, types.CurrentLogbookVersion).Return(nil)

		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"refreshed":1`)
		assert.Contains(t, rec.Body.String(), `"failed":0`)
		env.db.AssertCalled(t, "UpsertMember", mock.Anything, "acct1", mock.Anything, types.CurrentMemberVersion)
		env.db.AssertCalled(t, "SetLogbook", mock.Anything, "acct1", mock.Anything, types.CurrentLogbookVersion)
	})

	t.Run("SingleAccount", func(t *testing.T) {
		env := newTestEnv(t)
		account := storedAccount(t, env, "acct1")

		env.db.On("GetSettings", mock.Anything).Return(currentSettings(), types.CurrentSettingsVersion, nil)
		env.db.On("GetAccount", mock.Anything, "acct1").Return(account, nil)
		env.platform.On("ApplySettings", mock.Anything, mock.Anything).Return(nil)
		env.platform.On("Authenticate", mock.Anything, mock.Anything).Return(types.Credentials{}, false, nil)
		env.platform.On("FetchMember", mock.Anything).Return(testMember(), nil)
		env.platform.On("FetchLogbook", mock.Anything).Return(nil, assert.AnError)
		env.db.On("UpsertMember", mock.Anything, "acct1", mock.Anything, types.CurrentMemberVersion).Return(nil)

		req := httptest.NewRequest(http.MethodPost, "/api/update", strings.NewReader(`{"account":"acct1"}`))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		// a logbook fetch failure doesn't fail the refresh
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"refreshed":1`)
		env.db.AssertNotCalled(t, "ListAccounts", mock.Anything)
		env.db.AssertNotCalled(t, "SetLogbook", mock.Anything, "acct1", mock.Anything, types.CurrentLogbookVersion)
	})

	t.Run("Paused", func(t *testing.T) {
		env := newTestEnv(t)
		settings := currentSettings()
		settings.Pause = true

		env.db.On("GetSettings", mock.Anything).Return(settings, types.CurrentSettingsVersion, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		// 200 so the scheduler doesn't retry
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"paused"`)
		env.db.AssertNotCalled(t, "ListAccounts", mock.Anything)
	})

	t.Run("AuthFailureReported", func(t *testing.T) {
		env := newTestEnv(t)
		account := storedAccount(t, env, "acct1")

		env.db.On("GetSettings", mock.Anything).Return(currentSettings(), types.CurrentSettingsVersion, nil)
		env.db.On("ListAccounts", mock.Anything).Return([]types.Account{account}, nil)
		env.db.On("GetAccount", mock.Anything, "acct1").Return(account, nil)
		env.platform.On("ApplySettings", mock.Anything, mock.Anything).Return(nil)
		env.platform.On("Authenticate", mock.Anything, mock.Anything).Return(types.Credentials{}, false, assert.AnError)

		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"failed":1`)
	})

	t.Run("MigratesSettings", func(t *testing.T) {
		env := newTestEnv(t)
		settings := currentSettings()
		settings.Pause = true

		// stored at version 0, the migrated copy should be written back
		env.db.On("GetSettings", mock.Anything).Return(types.Settings{Pause: true}, 0, nil)
		env.db.On("SetSettings", mock.Anything, settings, types.CurrentSettingsVersion).Return(nil)

		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		env.db.AssertCalled(t, "SetSettings", mock.Anything, settings, types.CurrentSettingsVersion)
	})
}
