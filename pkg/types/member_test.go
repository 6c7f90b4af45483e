package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlightTime(t *testing.T) {
	tests := []struct {
		in      string
		want    FlightTime
		wantErr bool
	}{
		{"0:00", 0, false},
		{"1:05", 65, false},
		{"12:30", 750, false},
		{"1234:05", 74045, false},
		{" 2:15 ", 135, false},
		{"90", 0, true},
		{"1:60", 0, true},
		{"-1:05", 0, true},
		{"a:bc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFlightTime(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestFlightTimeString(t *testing.T) {
	assert.Equal(t, "0:00", FlightTime(0).String())
	assert.Equal(t, "1:05", FlightTime(65).String())
	assert.Equal(t, "20:00", FlightTime(1200).String())
}

func TestFlightTimeHoursDecimal(t *testing.T) {
	assert.Equal(t, 0.0, FlightTime(0).HoursDecimal())
	assert.Equal(t, 1.5, FlightTime(90).HoursDecimal())
	assert.Equal(t, 3.57, FlightTime(214).HoursDecimal())
}

func TestGroupLogbook(t *testing.T) {
	entries := []LogbookEntry{
		{EntryID: "1", Category: "Static", SkillName: "Back Layout"},
		{EntryID: "2", Category: "Dynamic", SkillName: "Snakes"},
		{EntryID: "3", Category: "Static", SkillName: "Sit Fly"},
	}
	groups := GroupLogbook(entries)
	require.Len(t, groups, 2)
	assert.Equal(t, "Static", groups[0].Name)
	require.Len(t, groups[0].Entries, 2)
	assert.Equal(t, "1", groups[0].Entries[0].EntryID)
	assert.Equal(t, "3", groups[0].Entries[1].EntryID)
	assert.Equal(t, "Dynamic", groups[1].Name)
	require.Len(t, groups[1].Entries, 1)

	assert.Empty(t, GroupLogbook(nil))
}
