// Command seed loads demo data into the Firestore emulator so the API can be
// exercised locally without real platform credentials.
package main

import (
	"context"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/B-Hartley/tunnelflight/pkg/log"
	"github.com/B-Hartley/tunnelflight/pkg/storage"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	now := time.Now().UTC()

	settings, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build settings", "error", err)
		os.Exit(1)
	}
	if err := s.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", "error", err)
		os.Exit(1)
	}

	account := types.Account{
		ID:        "demo@example.com",
		Username:  "demo@example.com",
		Name:      "Demo Flyer",
		CreatedAt: now,
	}
	if err := s.CreateAccount(ctx, account); err != nil {
		// re-running the seed against a warm emulator is fine
		log.Ctx(ctx).WarnContext(ctx, "failed to seed account", "error", err)
	}

	member := types.Member{
		MemberID:        "10001",
		Name:            "Demo Flyer",
		FirstName:       "Demo",
		LastName:        "Flyer",
		Email:           "demo@example.com",
		Country:         "United Kingdom",
		TunnelName:      "Milton Keynes iFLY",
		Role:            "Flyer",
		FlyerLevel:      2,
		FlyerCurrency:   types.CurrencyCurrent,
		CoachCurrency:   types.CurrencyUnknown,
		ExpiryDate:      now.AddDate(1, 0, 0).Format("2006-01-02"),
		TotalFlightTime: types.FlightTime(3*60 + 34),
		LastFlight:      now.AddDate(0, 0, -rng.Intn(30)-1),
		FetchedAt:       now,
		Skills: []types.Skill{
			{Name: "Level 1", Level: 1, Status: types.SkillStatusPassed, Raw: "Yes"},
			{Name: "Static", Level: 2, Status: types.SkillStatusPassed, Raw: "Level 2"},
			{Name: "Dynamic", Level: 1, Status: types.SkillStatusPassed, Raw: "Level 1"},
			{Name: "Formation", Level: 1, Status: types.SkillStatusPending, Pending: true, Raw: "Level 1 Pending"},
		},
	}
	if err := s.UpsertMember(ctx, account.ID, member, types.CurrentMemberVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed member", "error", err)
		os.Exit(1)
	}

	skills := []struct {
		name     string
		category string
	}{
		{"Belly Hover", "Static"},
		{"Back Fly", "Static"},
		{"Sit Fly", "Dynamic"},
		{"Head Down", "Dynamic"},
		{"2-Way Exits", "Formation"},
	}
	entries := make([]types.LogbookEntry, 0, len(skills))
	for i, sk := range skills {
		status := "open"
		if rng.Intn(3) == 0 {
			status = "suspended"
		}
		entries = append(entries, types.LogbookEntry{
			EntryID:    strconv.Itoa(50000 + i),
			SkillName:  sk.name,
			Category:   sk.category,
			Status:     status,
			EntryDate:  now.AddDate(0, 0, -rng.Intn(90)-1).Format("2006-01-02"),
			Instructor: "Demo Instructor",
		})
	}
	if err := s.SetLogbook(ctx, account.ID, entries, types.CurrentLogbookVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed logbook", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data",
		"account", account.ID,
		"logbookEntries", len(entries),
	)
}
