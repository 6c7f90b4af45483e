package iba

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/B-Hartley/tunnelflight/pkg/log"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

// flexString decodes a JSON value that the site sends as either a string or
// a number (member_id shows up both ways, sometimes with thousands
// separators).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// cleaned strips the thousands separators the site sometimes puts in IDs.
func (f flexString) cleaned() string {
	return strings.ReplaceAll(strings.TrimSpace(string(f)), ",", "")
}

// flexTime decodes a timestamp the site sends as either an ISO-8601 string
// ("2024-11-20T14:50:10.000Z"), a date string, or a unix number.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	f.Time = time.Time{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				f.Time = parsed
				return nil
			}
		}
		// a numeric string is a unix timestamp
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			f.Time = time.Unix(n, 0).UTC()
			return nil
		}
		// unparseable dates are dropped rather than failing the whole fetch
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if n > 0 {
		f.Time = time.Unix(n, 0).UTC()
	}
	return nil
}

func (f flexTime) date() string {
	if f.IsZero() {
		return ""
	}
	return f.Format("2006-01-02")
}

type paymentData struct {
	PaymentStatus string `json:"paymentStatus"`
	NextDate      int64  `json:"nextDate"`
}

// userInfoResult is the common shape of the flyer card, flyer charts and
// dashboard user info blobs. No single endpoint fills every field.
type userInfoResult struct {
	MemberID           flexString   `json:"member_id"`
	ScreenName         string       `json:"screen_name"`
	Email              string       `json:"email"`
	RoleName           string       `json:"role_name"`
	FirstName          string       `json:"first_name"`
	LastName           string       `json:"last_name"`
	Country            string       `json:"country"`
	TunnelName         string       `json:"tunnel_name"`
	TotalFlightTime    string       `json:"total_flight_time"`
	LastFlight         flexTime     `json:"last_flight"`
	CurrencyFlyer      *int         `json:"currency_flyer"`
	CurrencyCoach      *int         `json:"currency_coach"`
	CurrencyInstructor *int         `json:"currency_instructor"`
	CurrencyRenewal    flexTime     `json:"currency_renewal_date_flyer"`
	PaymentData        *paymentData `json:"paymentData"`
}

// merge fills any empty fields from other, never overwriting existing data.
func (u *userInfoResult) merge(other userInfoResult) {
	if u.MemberID.cleaned() == "" {
		u.MemberID = other.MemberID
	}
	if u.ScreenName == "" {
		u.ScreenName = other.ScreenName
	}
	if u.Email == "" {
		u.Email = other.Email
	}
	if u.RoleName == "" {
		u.RoleName = other.RoleName
	}
	if u.FirstName == "" {
		u.FirstName = other.FirstName
	}
	if u.LastName == "" {
		u.LastName = other.LastName
	}
	if u.Country == "" {
		u.Country = other.Country
	}
	if u.TunnelName == "" {
		u.TunnelName = other.TunnelName
	}
	if u.TotalFlightTime == "" {
		u.TotalFlightTime = other.TotalFlightTime
	}
	if u.LastFlight.IsZero() {
		u.LastFlight = other.LastFlight
	}
	if u.CurrencyFlyer == nil {
		u.CurrencyFlyer = other.CurrencyFlyer
	}
	if u.CurrencyCoach == nil {
		u.CurrencyCoach = other.CurrencyCoach
	}
	if u.CurrencyInstructor == nil {
		u.CurrencyInstructor = other.CurrencyInstructor
	}
	if u.CurrencyRenewal.IsZero() {
		u.CurrencyRenewal = other.CurrencyRenewal
	}
	if u.PaymentData == nil {
		u.PaymentData = other.PaymentData
	}
}

type skillsLevelsResult struct {
	Level1           string `json:"level1"`
	Static           string `json:"static"`
	Dynamic          string `json:"dynamic"`
	Formation        string `json:"formation"`
	Level1Pending    bool   `json:"level1Pending"`
	StaticPending    bool   `json:"staticPending"`
	DynamicPending   bool   `json:"dynamicPending"`
	FormationPending bool   `json:"formationPending"`
}

type logbookEntryResult struct {
	ID             flexString `json:"id"`
	SkillName      string     `json:"skill_name"`
	Status         string     `json:"status"`
	CatName        string     `json:"cat_name"`
	EntryDate      flexTime   `json:"entry_date"`
	ApprovalDate   flexTime   `json:"approval_date"`
	InstructorName string     `json:"instructor_name"`
}

type tunnelResult struct {
	EntryID      flexString `json:"entry_id"`
	Title        string     `json:"title"`
	Country      string     `json:"country"`
	Size         string     `json:"size"`
	Manufacturer string     `json:"manufacturer"`
	Address      string     `json:"address"`
	AddressCity  string     `json:"address_city"`
	Status       string     `json:"status"`
}

// parseSkillLevel converts the site's skill values to a numeric level:
// "Yes" is level 1, "Level N" is N, anything else is 0.
func parseSkillLevel(ctx context.Context, raw string) int {
	if raw == "Yes" {
		return 1
	}
	if strings.HasPrefix(strings.ToLower(raw), "level") {
		parts := strings.Fields(raw)
		if len(parts) >= 2 {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				return n
			}
		}
		log.Ctx(ctx).WarnContext(ctx, "unparseable skill level", slog.String("value", raw))
	}
	return 0
}

func skillStatus(level int, pending bool) types.SkillStatus {
	switch {
	case pending:
		return types.SkillStatusPending
	case level > 0:
		return types.SkillStatusPassed
	default:
		return types.SkillStatusNotPassed
	}
}

func currencyStatus(v *int) types.CurrencyStatus {
	if v == nil {
		return types.CurrencyUnknown
	}
	if *v == 1 {
		return types.CurrencyCurrent
	}
	return types.CurrencyNotCurrent
}

// flattenMember converts the merged user info and skills data into a Member.
func flattenMember(ctx context.Context, info userInfoResult, skills *skillsLevelsResult) types.Member {
	m := types.Member{
		MemberID:             info.MemberID.cleaned(),
		Name:                 info.ScreenName,
		FirstName:            info.FirstName,
		LastName:             info.LastName,
		Email:                info.Email,
		Country:              info.Country,
		TunnelName:           info.TunnelName,
		Role:                 info.RoleName,
		FlyerCurrency:        currencyStatus(info.CurrencyFlyer),
		CoachCurrency:        types.CurrencyUnknown,
		InstructorCurrency:   types.CurrencyUnknown,
		FlyerCurrencyRenewal: info.CurrencyRenewal.date(),
		LastFlight:           info.LastFlight.Time,
	}

	// coach/instructor ratings only mean anything for non-flyer roles
	if info.RoleName != "Flyer" {
		m.CoachCurrency = currencyStatus(info.CurrencyCoach)
		m.InstructorCurrency = currencyStatus(info.CurrencyInstructor)
	}

	if info.PaymentData != nil {
		m.PaymentStatus = info.PaymentData.PaymentStatus
		if info.PaymentData.NextDate > 0 {
			m.ExpiryDate = time.Unix(info.PaymentData.NextDate, 0).UTC().Format("2006-01-02")
		}
	}

	if info.TotalFlightTime != "" {
		ft, err := types.ParseFlightTime(info.TotalFlightTime)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "unparseable total flight time", slog.String("value", info.TotalFlightTime), slog.Any("error", err))
		} else {
			m.TotalFlightTime = ft
		}
	}

	if skills == nil {
		skills = &skillsLevelsResult{Level1: "No", Static: "No", Dynamic: "No", Formation: "No"}
	}

	level1 := parseSkillLevel(ctx, skills.Level1)
	staticLevel := parseSkillLevel(ctx, skills.Static)
	dynamicLevel := parseSkillLevel(ctx, skills.Dynamic)
	formationLevel := parseSkillLevel(ctx, skills.Formation)

	// a passed level 1 floors every discipline to at least level 1
	if skills.Level1 == "Yes" {
		if staticLevel == 0 {
			staticLevel = 1
		}
		if dynamicLevel == 0 {
			dynamicLevel = 1
		}
		if formationLevel == 0 {
			formationLevel = 1
		}
	}

	m.FlyerLevel = level1
	m.Skills = []types.Skill{
		{
			Name:    "Level 1",
			Level:   level1,
			Status:  skillStatus(level1, skills.Level1Pending),
			Pending: skills.Level1Pending,
			Raw:     skills.Level1,
		},
		{
			Name:    "Static",
			Level:   staticLevel,
			Status:  skillStatus(staticLevel, skills.StaticPending),
			Pending: skills.StaticPending,
			Raw:     skills.Static,
		},
		{
			Name:    "Dynamic",
			Level:   dynamicLevel,
			Status:  skillStatus(dynamicLevel, skills.DynamicPending),
			Pending: skills.DynamicPending,
			Raw:     skills.Dynamic,
		},
		{
			Name:    "Formation",
			Level:   formationLevel,
			Status:  skillStatus(formationLevel, skills.FormationPending),
			Pending: skills.FormationPending,
			Raw:     skills.Formation,
		},
	}

	return m
}
