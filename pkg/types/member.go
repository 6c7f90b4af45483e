package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	CurrentMemberVersion  = 1
	CurrentLogbookVersion = 1
)

// SkillStatus is the normalized pass state for a single skill.
type SkillStatus string

const (
	SkillStatusPassed    SkillStatus = "passed"
	SkillStatusPending   SkillStatus = "pending"
	SkillStatusNotPassed SkillStatus = "not_passed"
)

// CurrencyStatus represents whether a rating is currently valid.
type CurrencyStatus string

const (
	CurrencyCurrent    CurrencyStatus = "current"
	CurrencyNotCurrent CurrencyStatus = "not_current"
	CurrencyUnknown    CurrencyStatus = "unknown"
)

// Skill is one entry on a member's skills card, normalized from the vendor's
// mixed string/boolean representation.
type Skill struct {
	Name    string      `json:"name"`
	Level   int         `json:"level"`
	Status  SkillStatus `json:"status"`
	Pending bool        `json:"pending,omitempty"`
	// Raw is the vendor's original value ("Yes", "Level 2", ...) kept for display
	Raw string `json:"raw,omitempty"`
}

// FlightTime is a duration in whole minutes, displayed as "H:MM".
type FlightTime int

// ParseFlightTime parses the vendor's "H:MM" format. Hours may exceed two
// digits ("1234:05" is valid).
func ParseFlightTime(s string) (FlightTime, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid flight time %q", s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("invalid flight time hours %q: %w", s, err)
	}
	mins, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("invalid flight time minutes %q: %w", s, err)
	}
	if hours < 0 || mins < 0 || mins > 59 {
		return 0, fmt.Errorf("flight time out of range %q", s)
	}
	return FlightTime(hours*60 + mins), nil
}

func (f FlightTime) String() string {
	return fmt.Sprintf("%d:%02d", int(f)/60, int(f)%60)
}

func (f FlightTime) Minutes() int {
	return int(f)
}

// HoursDecimal returns the flight time as fractional hours rounded to two
// places, matching the vendor's display form.
func (f FlightTime) HoursDecimal() float64 {
	return math.Round(float64(f)/60*100) / 100
}

// Member is the flattened view of a flyer account, assembled from the card,
// dashboard and skills endpoints.
type Member struct {
	MemberID   string `json:"memberID"`
	Name       string `json:"name"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Email      string `json:"email,omitempty"`
	Country    string `json:"country,omitempty"`
	TunnelName string `json:"tunnelName,omitempty"`
	// Role is the vendor's role name for the account ("Flyer", "Instructor", ...)
	Role               string         `json:"role,omitempty"`
	FlyerLevel         int            `json:"flyerLevel"`
	FlyerCurrency      CurrencyStatus `json:"flyerCurrency"`
	CoachCurrency      CurrencyStatus `json:"coachCurrency"`
	InstructorCurrency CurrencyStatus `json:"instructorCurrency"`
	// FlyerCurrencyRenewal is when the flyer rating is due for renewal (YYYY-MM-DD)
	FlyerCurrencyRenewal string     `json:"flyerCurrencyRenewal,omitempty"`
	PaymentStatus        string     `json:"paymentStatus,omitempty"`
	ExpiryDate           string     `json:"expiryDate,omitempty"` // YYYY-MM-DD
	TotalFlightTime      FlightTime `json:"totalFlightTimeMinutes"`
	LastFlight           time.Time  `json:"lastFlight"`
	Skills               []Skill    `json:"skills,omitempty"`
	FetchedAt            time.Time  `json:"fetchedAt"`
}

// LogbookEntry is a single open or suspended skill entry from the member
// logbook.
type LogbookEntry struct {
	EntryID      string `json:"entryID"`
	SkillName    string `json:"skillName"`
	Status       string `json:"status,omitempty"`
	Category     string `json:"category,omitempty"`
	EntryDate    string `json:"entryDate,omitempty"` // YYYY-MM-DD
	ApprovalDate string `json:"approvalDate,omitempty"`
	Instructor   string `json:"instructor,omitempty"`
}

// LogbookCategory groups logbook entries by the vendor's category name.
type LogbookCategory struct {
	Name    string         `json:"name"`
	Entries []LogbookEntry `json:"entries"`
}

// GroupLogbook groups entries by category, preserving the order in which
// categories first appear.
func GroupLogbook(entries []LogbookEntry) []LogbookCategory {
	var out []LogbookCategory
	idx := make(map[string]int)
	for _, e := range entries {
		i, ok := idx[e.Category]
		if !ok {
			i = len(out)
			idx[e.Category] = i
			out = append(out, LogbookCategory{Name: e.Category})
		}
		out[i].Entries = append(out[i].Entries, e)
	}
	return out
}

// Tunnel is one location from the vendor's tunnel list.
type Tunnel struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	City         string `json:"city,omitempty"`
	Country      string `json:"country,omitempty"`
	Size         string `json:"size,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Status       string `json:"status,omitempty"`
}

// TimeEntry is a flight-time submission to be written to the member logbook.
type TimeEntry struct {
	TunnelID   int       `json:"tunnelID"`
	TunnelName string    `json:"tunnelName,omitempty"`
	Minutes    int       `json:"minutes"`
	Comment    string    `json:"comment,omitempty"`
	EntryDate  time.Time `json:"entryDate"` // zero means now
}

// User represents a user of the system.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Admin bool   `json:"-"`
}
