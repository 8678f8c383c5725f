package types

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestUrgencySynonyms(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		wantOngoing int
		wantMissed  int
	}{
		{"canonical", "ongoing_interval: 25\nmissed_interval: 5\n", 25, 5},
		{"synonyms", "low_urgency_interval: 40\nhigh_urgency_interval: 3\n", 40, 3},
		{"canonical wins", "ongoing_interval: 25\nlow_urgency_interval: 40\n", 25, 10},
		{"absent", "user_name: Ana\n", 20, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			require.NoError(t, yaml.Unmarshal([]byte(tt.doc), &s))
			assert.Equal(t, tt.wantOngoing, s.OngoingInterval)
			assert.Equal(t, tt.wantMissed, s.MissedInterval)
		})
	}
}

func TestNormalizeClampsIntervals(t *testing.T) {
	s := Settings{
		FirstReminder:           -5,
		OngoingInterval:         0,
		SnoozeMinutes:           -1,
		TravelTimeOfficeMinutes: -3,
		InsistenceProfile:       "shouty",
	}.Normalize()

	def := DefaultSettings()
	assert.Equal(t, def.FirstReminder, s.FirstReminder)
	assert.Equal(t, def.OngoingInterval, s.OngoingInterval)
	assert.Equal(t, def.SnoozeMinutes, s.SnoozeMinutes)
	assert.Equal(t, 0, s.TravelTimeOfficeMinutes)
	assert.Equal(t, InsistenceMedium, s.InsistenceProfile)
	assert.Equal(t, def.UserName, s.UserName)
}

func TestMalformedClockUsesDefault(t *testing.T) {
	s := DefaultSettings()
	s.WorkStartTime = "nine"
	s.WorkEndTime = "25:99"
	s.DailySummaryTime = "06:45"

	assert.Equal(t, Clock{Hour: 8}, s.WorkStart())
	assert.Equal(t, Clock{Hour: 23}, s.WorkEnd())
	assert.Equal(t, "06:45", s.SummaryAt().String())
}

func TestWithinWorkHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC) }
	s := DefaultSettings()
	s.WorkStartTime, s.WorkEndTime = "09:00", "17:00"

	assert.False(t, s.WithinWorkHours(at(8, 59)))
	assert.True(t, s.WithinWorkHours(at(9, 0)))
	assert.True(t, s.WithinWorkHours(at(17, 0)))
	assert.False(t, s.WithinWorkHours(at(17, 1)))

	s.WorkStartTime, s.WorkEndTime = "22:00", "06:00"
	assert.True(t, s.WithinWorkHours(at(23, 30)))
	assert.True(t, s.WithinWorkHours(at(5, 0)))
	assert.False(t, s.WithinWorkHours(at(12, 0)))
}

func TestReminderOffsets(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, []int{60, 30, 10, 0}, s.ReminderOffsets())

	s.SecondReminder = 60
	assert.Equal(t, []int{60, 10, 0}, s.ReminderOffsets())
}

func TestTravelMinutes(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 0, s.TravelMinutes(LocationOffice))
	assert.Equal(t, 15, s.TravelMinutes(LocationNearby))
	assert.Equal(t, 40, s.TravelMinutes(LocationFar))
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	s.UserName = "Ana"
	s.ThirdReminder = 5
	require.NoError(t, SaveSettings(path, s))

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "Ana", loaded.UserName)
	assert.Equal(t, 5, loaded.ThirdReminder)

	require.NoError(t, os.WriteFile(path, []byte(":\n  - ["), 0644))
	_, err = LoadSettings(path)
	assert.Error(t, err)
}

func TestThreadID(t *testing.T) {
	assert.Equal(t, "general", ThreadID(""))
	assert.Equal(t, "event_abc", ThreadID("abc"))
}
