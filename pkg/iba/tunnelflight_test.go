package iba

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/B-Hartley/tunnelflight/pkg/types"
)

func TestTunnelflight(t *testing.T) {
	t.Run("Authenticate", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				w.WriteHeader(http.StatusOK)
			case "/login":
				assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "flyer@example.com", body["username"], "username should be lowercased")
				assert.Equal(t, "pass", body["password"])
				assert.Equal(t, "", body["passcode"])
				assert.Equal(t, false, body["enable2fa"])
				assert.Equal(t, true, body["checkTwoFactor"])
				assert.Equal(t, "email", body["passcodeOption"])
				json.NewEncoder(w).Encode(map[string]interface{}{"token": "tok-123"})
			case "/user/module-type/flyer-card/":
				json.NewEncoder(w).Encode(map[string]interface{}{
					"member_id":   "1,234",
					"screen_name": "Flyer One",
				})
			default:
				http.Error(w, "not found: "+r.URL.Path, 404)
			}
		}))
		defer ts.Close()

		tf := newTunnelflight(ts.URL)
		creds, changed, err := tf.Authenticate(context.Background(), types.Credentials{
			Tunnelflight: &types.TunnelflightCredentials{
				Username: "Flyer@Example.com",
				Password: "pass",
			},
		})
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "flyer@example.com", creds.Tunnelflight.Username)
		assert.Equal(t, "tok-123", creds.Tunnelflight.Token)
		assert.Equal(t, "1234", creds.Tunnelflight.MemberID, "member id should be de-commaed")
	})

	t.Run("LoginSuccessViaMessage", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				w.WriteHeader(http.StatusOK)
			case "/login":
				// no token, just a message
				json.NewEncoder(w).Encode(map[string]interface{}{"message": "Logged in successfully"})
			default:
				http.Error(w, "not found", 404)
			}
		}))
		defer ts.Close()

		tf := newTunnelflight(ts.URL)
		tf.username = "u"
		tf.password = "p"

		token, err := tf.login(context.Background(), "u", "p", true)
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("LoginConflictRetries", func(t *testing.T) {
		var loginCalls, logoutCalls int
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				w.WriteHeader(http.StatusOK)
			case "/logout":
				logoutCalls++
				w.WriteHeader(http.StatusOK)
			case "/login":
				loginCalls++
				if loginCalls == 1 {
					w.WriteHeader(http.StatusConflict)
					return
				}
				json.NewEncoder(w).Encode(map[string]interface{}{"token": "tok"})
			default:
				http.Error(w, "not found", 404)
			}
		}))
		defer ts.Close()

		tf := newTunnelflight(ts.URL)
		token, err := tf.login(context.Background(), "u", "p", true)
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
		assert.Equal(t, 2, loginCalls, "should retry login once after conflict")
		assert.Equal(t, 1, logoutCalls, "should clear session before retrying")
	})

	t.Run("LoginRejected", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				w.WriteHeader(http.StatusOK)
			case "/login":
				json.NewEncoder(w).Encode(map[string]interface{}{"message": "Invalid username or password"})
			default:
				http.Error(w, "not found", 404)
			}
		}))
		defer ts.Close()

		tf := newTunnelflight(ts.URL)
		_, err := tf.login(context.Background(), "u", "bad", true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid username or password")
	})

	t.Run("FetchMember", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				w.WriteHeader(http.StatusOK)
			case "/login":
				json.NewEncoder(w).Encode(map[string]interface{}{"token": "tok"})
			case "/user/module-type/flyer-card/":
				json.NewEncoder(w).Encode(map[string]interface{}{
					"member_id":                   12345,
					"screen_name":                 "flyerone",
					"role_name":                   "Flyer",
					"total_flight_time":           "3:34",
					"last_flight":                 "2024-11-20T14:50:10.000Z",
					"currency_flyer":              1,
					"currency_renewal_date_flyer": 1750000000,
					"paymentData": map[string]interface{}{
						"paymentStatus": "Paid",
						"nextDate":      1767139200,
					},
				})
			case "/user/module-type/flyer-charts/":
				json.NewEncoder(w).Encode(map[string]interface{}{
					"country":     "United Kingdom",
					"tunnel_name": "Milton Keynes iFLY",
				})
			case "/account/dashboard":
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte(`<html><body><script id="userInfoObj" type="application/json">{"email":"flyer@example.com"}</script></body></html>`))
			case "/account/dashboard/flyer-skills-levels/12345":
				// 201 is a valid response from this endpoint
				w.WriteHeader(http.StatusCreated)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"level1":           "Yes",
					"static":           "No",
					"dynamic":          "Level 2",
					"formation":        "No",
					"formationPending": true,
				})
			default:
				http.Error(w, "not found: "+r.URL.Path, 404)
			}
		}))
		defer ts.Close()

		tf := newTunnelflight(ts.URL)
		tf.username = "flyerone"
		tf.password = "p"

		m, err := tf.FetchMember(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "12345", m.MemberID)
		assert.Equal(t, "flyerone", m.Name)
		assert.Equal(t, "flyer@example.com", m.Email, "dashboard should fill gaps")
		assert.Equal(t, "United Kingdom", m.Country, "charts should fill gaps")
		assert.Equal(t, "Milton Keynes iFLY", m.TunnelName)
		assert.Equal(t, "Flyer", m.Role)
		assert.Equal(t, types.CurrencyCurrent, m.FlyerCurrency)
		assert.Equal(t, types.CurrencyUnknown, m.CoachCurrency)
		assert.Equal(t, types.CurrencyUnknown, m.InstructorCurrency)
		assert.Equal(t, "2025-06-15", m.FlyerCurrencyRenewal)
		assert.Equal(t, "Paid", m.PaymentStatus)
		assert.Equal(t, "2025-12-31", m.ExpiryDate)
		assert.Equal(t, types.FlightTime(214), m.TotalFlightTime)
		assert.Equal(t, 3.57, m.TotalFlightTime.HoursDecimal())
		assert.Equal(t, time.Date(2024, 11, 20, 14, 50, 10, 0, time.UTC), m.LastFlight)

		require.Len(t, m.Skills, 4)
		byName := make(map[string]types.Skill)
		for _, s := range m.Skills {
			byName[s.Name] = s
		}
		assert.Equal(t, 1, byName["Level 1"].Level)
		assert.Equal(t, types.SkillStatusPassed, byName["Level 1"].Status)
		// level1 passed floors static to 1 even though the raw value is "No"
		assert.Equal(t, 1, byName["Static"].Level)
		assert.Equal(t, "No", byName["Static"].Raw)
		assert.Equal(t, 2, byName["Dynamic"].Level)
		assert.Equal(t, types.SkillStatusPassed, byName["Dynamic"].Status)
		assert.Equal(t, 1, byName["Formation"].Level)
		assert.Equal(t, types.SkillStatusPending, byName["Formation"].Status)
	})

	t.Run("ReloginOnExpiredSession", func(t *testing.T) {
		var loginCalls, logbookCalls int
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				w.WriteHeader(http.StatusOK)
			case "/login":
				loginCalls++
				json.NewEncoder(w).Encode(map[string]interface{}{"token": "tok"})
			case "/account/logbook/member/skills/open-suspended/99":
				logbookCalls++
				if logbookCalls == 1 {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				json.NewEncoder(w).Encode([]map[string]interface{}{
					{"id": 1, "skill_name": "Back Layout", "status": "open", "cat_name": "Static", "entry_date": 1732117810},
				})
			default:
				http.Error(w, "not found: "+r.URL.Path, 404)
			}
		}))
		defer ts.Close()

		tf := newTunnelflight(ts.URL)
		tf.username = "u"
		tf.password = "p"
		tf.memberID = "99"
		tf.loggedIn = true

		entries, err := tf.FetchLogbook(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, loginCalls, "should have re-logged in after 401")
		require.Len(t, entries, 1)
		assert.Equal(t, "1", entries[0].EntryID)
		assert.Equal(t, "Back Layout", entries[0].SkillName)
		assert.Equal(t, "Static", entries[0].Category)
		assert.Equal(t, "2024-11-20", entries[0].EntryDate)
	})

	t.Run("FetchTunnels", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/account/logbook/tunnels/":
				json.NewEncoder(w).Encode([]map[string]interface{}{
					{"entry_id": "225", "title": "Milton Keynes iFLY", "country": "United Kingdom", "address_city": "Milton Keynes", "size": "12ft"},
					{"entry_id": "nope", "title": "Broken"},
					{"entry_id": "249", "title": "InFlight Dubai", "country": "United Arab Emirates"},
				})
			default:
				http.Error(w, "not found", 404)
			}
		}))
		defer ts.Close()

		tf := newTunnelflight(ts.URL)
		tf.username = "u"
		tf.password = "p"
		tf.loggedIn = true

		tunnels, err := tf.FetchTunnels(context.Background())
		require.NoError(t, err)
		require.Len(t, tunnels, 2, "bad entry ids should be skipped")
		assert.Equal(t, 225, tunnels[0].ID)
		assert.Equal(t, "Milton Keynes iFLY", tunnels[0].Name)
		assert.Equal(t, "Milton Keynes", tunnels[0].City)
		assert.Equal(t, 249, tunnels[1].ID)
	})

	t.Run("LogFlightTime", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/account/logbook/member/time/":
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "", body["entry_id"])
				assert.Equal(t, "open", body["status"])
				assert.Equal(t, "225", body["tunnel"])
				assert.Equal(t, "Milton Keynes iFLY", body["tunnel_name"])
				assert.Equal(t, "10", body["time"])
				assert.Equal(t, float64(1732117810), body["entry_date"])
				json.NewEncoder(w).Encode(map[string]interface{}{"message": "Ok"})
			default:
				http.Error(w, "not found", 404)
			}
		}))
		defer ts.Close()

		tf := newTunnelflight(ts.URL)
		tf.username = "u"
		tf.password = "p"
		tf.loggedIn = true

		err := tf.LogFlightTime(context.Background(), types.TimeEntry{
			TunnelID:   225,
			TunnelName: "Milton Keynes iFLY",
			Minutes:    10,
			EntryDate:  time.Unix(1732117810, 0),
		})
		require.NoError(t, err)
	})

	t.Run("LogFlightTimePlainTextResponse", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/account/logbook/member/time/":
				// the site sometimes answers with a bare text body
				w.Header().Set("Content-Type", "text/plain")
				w.Write([]byte("Ok"))
			default:
				http.Error(w, "not found", 404)
			}
		}))
		defer ts.Close()

		tf := newTunnelflight(ts.URL)
		tf.username = "u"
		tf.password = "p"
		tf.loggedIn = true

		err := tf.LogFlightTime(context.Background(), types.TimeEntry{
			TunnelID: 225,
			Minutes:  10,
		})
		require.NoError(t, err)
	})

	t.Run("LogFlightTimeRejected", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/account/logbook/member/time/":
				json.NewEncoder(w).Encode(map[string]interface{}{"message": "Entry date cannot be in the future"})
			default:
				http.Error(w, "not found", 404)
			}
		}))
		defer ts.Close()

		tf := newTunnelflight(ts.URL)
		tf.username = "u"
		tf.password = "p"
		tf.loggedIn = true

		err := tf.LogFlightTime(context.Background(), types.TimeEntry{
			TunnelID: 225,
			Minutes:  10,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Entry date cannot be in the future")
	})

	t.Run("LogFlightTimeValidation", func(t *testing.T) {
		tf := newTunnelflight("http://unused")
		err := tf.LogFlightTime(context.Background(), types.TimeEntry{TunnelID: 225, Minutes: 0})
		assert.Error(t, err)
		err = tf.LogFlightTime(context.Background(), types.TimeEntry{TunnelID: 225, Minutes: 121})
		assert.Error(t, err)
		err = tf.LogFlightTime(context.Background(), types.TimeEntry{Minutes: 10})
		assert.Error(t, err)
	})
}

func TestFlattenMemberRoles(t *testing.T) {
	ctx := context.Background()
	current, notCurrent := 1, 0

	info := userInfoResult{
		RoleName:           "Instructor",
		CurrencyFlyer:      &current,
		CurrencyCoach:      &notCurrent,
		CurrencyInstructor: &current,
	}
	m := flattenMember(ctx, info, nil)
	assert.Equal(t, "Instructor", m.Role)
	assert.Equal(t, types.CurrencyCurrent, m.FlyerCurrency)
	assert.Equal(t, types.CurrencyNotCurrent, m.CoachCurrency)
	assert.Equal(t, types.CurrencyCurrent, m.InstructorCurrency)

	// plain flyers never get coach/instructor currency even if the card has it
	info.RoleName = "Flyer"
	m = flattenMember(ctx, info, nil)
	assert.Equal(t, types.CurrencyCurrent, m.FlyerCurrency)
	assert.Equal(t, types.CurrencyUnknown, m.CoachCurrency)
	assert.Equal(t, types.CurrencyUnknown, m.InstructorCurrency)
}

func TestUsernameMatches(t *testing.T) {
	assert.True(t, usernameMatches("Flyer One", "flyerone"))
	assert.True(t, usernameMatches("flyer", "flyer@example.com"))
	assert.False(t, usernameMatches("someone else", "flyerone"))
	assert.True(t, usernameMatches("", ""))
}
