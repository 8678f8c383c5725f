package types

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Insistence profiles pick the channel used for ongoing/delayed nags
const (
	InsistenceNormal = "normal"
	InsistenceMedium = "medium"
	InsistenceLow    = "low"
)

// Settings are the user's preferences. The core only reads them; every
// engine function takes them as a parameter.
type Settings struct {
	UserName string `yaml:"user_name"`

	WorkStartTime   string `yaml:"work_start_time"`
	WorkEndTime     string `yaml:"work_end_time"`
	WorkHours24h    bool   `yaml:"work_hours_24h"`
	LunchStartTime  string `yaml:"lunch_start_time"`
	LunchEndTime    string `yaml:"lunch_end_time"`
	DinnerStartTime string `yaml:"dinner_start_time"`
	DinnerEndTime   string `yaml:"dinner_end_time"`

	// Minutes before start
	FirstReminder  int `yaml:"first_reminder"`
	SecondReminder int `yaml:"second_reminder"`
	ThirdReminder  int `yaml:"third_reminder"`

	// Re-notify cadence in minutes. The UI calls these low/high urgency.
	OngoingInterval int `yaml:"ongoing_interval"`
	MissedInterval  int `yaml:"missed_interval"`

	InsistenceProfile string `yaml:"insistence_profile"`
	SarcasticMode     bool   `yaml:"sarcastic_mode"`
	Personality       string `yaml:"personality"`

	SnoozeMinutes              int    `yaml:"snooze_minutes"`
	NotificationTimeoutMinutes int    `yaml:"notification_timeout_minutes"`
	DailySummaryTime           string `yaml:"daily_summary_time"`

	TravelTimeOfficeMinutes int `yaml:"travel_time_office_minutes"`
	TravelTimeNearbyMinutes int `yaml:"travel_time_nearby_minutes"`
	TravelTimeFarMinutes    int `yaml:"travel_time_far_minutes"`
}

// DefaultSettings documents every default, including the ones substituted
// for malformed values.
func DefaultSettings() Settings {
	return Settings{
		UserName:                   "friend",
		WorkStartTime:              "08:00",
		WorkEndTime:                "23:00",
		WorkHours24h:               true,
		LunchStartTime:             "13:00",
		LunchEndTime:               "14:00",
		DinnerStartTime:            "20:00",
		DinnerEndTime:              "21:00",
		FirstReminder:              60,
		SecondReminder:             30,
		ThirdReminder:              10,
		OngoingInterval:            20,
		MissedInterval:             10,
		InsistenceProfile:          InsistenceLow,
		SarcasticMode:              true,
		Personality:                "sarcastic",
		SnoozeMinutes:              15,
		NotificationTimeoutMinutes: 30,
		DailySummaryTime:           "07:30",
		TravelTimeOfficeMinutes:    0,
		TravelTimeNearbyMinutes:    15,
		TravelTimeFarMinutes:       40,
	}
}

// UnmarshalYAML accepts low_urgency_interval / high_urgency_interval as
// synonyms for ongoing_interval / missed_interval. The canonical key wins
// when both are present.
func (s *Settings) UnmarshalYAML(n *yaml.Node) error {
	type plain Settings
	if err := n.Decode((*plain)(s)); err != nil {
		return err
	}
	var syn struct {
		Ongoing *int `yaml:"ongoing_interval"`
		Missed  *int `yaml:"missed_interval"`
		Low     *int `yaml:"low_urgency_interval"`
		High    *int `yaml:"high_urgency_interval"`
	}
	if err := n.Decode(&syn); err != nil {
		return err
	}
	if syn.Ongoing == nil && syn.Low != nil {
		s.OngoingInterval = *syn.Low
	}
	if syn.Missed == nil && syn.High != nil {
		s.MissedInterval = *syn.High
	}
	return nil
}

// Normalize replaces non-positive intervals and unknown enum values with
// defaults. Time-of-day strings are left alone; the Clock accessors
// substitute defaults at read time.
func (s Settings) Normalize() Settings {
	def := DefaultSettings()
	positive := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	positive(&s.FirstReminder, def.FirstReminder)
	positive(&s.SecondReminder, def.SecondReminder)
	positive(&s.ThirdReminder, def.ThirdReminder)
	positive(&s.OngoingInterval, def.OngoingInterval)
	positive(&s.MissedInterval, def.MissedInterval)
	positive(&s.SnoozeMinutes, def.SnoozeMinutes)
	positive(&s.NotificationTimeoutMinutes, def.NotificationTimeoutMinutes)
	if s.TravelTimeOfficeMinutes < 0 {
		s.TravelTimeOfficeMinutes = 0
	}
	positive(&s.TravelTimeNearbyMinutes, def.TravelTimeNearbyMinutes)
	positive(&s.TravelTimeFarMinutes, def.TravelTimeFarMinutes)

	switch s.InsistenceProfile {
	case InsistenceNormal, InsistenceMedium, InsistenceLow:
	default:
		s.InsistenceProfile = InsistenceMedium
	}
	if s.Personality == "" {
		s.Personality = def.Personality
	}
	if s.UserName == "" {
		s.UserName = def.UserName
	}
	return s
}

// LoadSettings reads settings.yaml, falling back to defaults when the file
// does not exist yet.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("parse settings: %w", err)
	}
	return s.Normalize(), nil
}

// SaveSettings writes settings.yaml
func SaveSettings(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// On places the clock on day's date in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func clockOr(value, fallback string) Clock {
	if c, err := ParseClock(value); err == nil {
		return c
	}
	c, _ := ParseClock(fallback)
	return c
}

func (s Settings) WorkStart() Clock   { return clockOr(s.WorkStartTime, "08:00") }
func (s Settings) WorkEnd() Clock     { return clockOr(s.WorkEndTime, "23:00") }
func (s Settings) LunchStart() Clock  { return clockOr(s.LunchStartTime, "13:00") }
func (s Settings) LunchEnd() Clock    { return clockOr(s.LunchEndTime, "14:00") }
func (s Settings) DinnerStart() Clock { return clockOr(s.DinnerStartTime, "20:00") }
func (s Settings) DinnerEnd() Clock   { return clockOr(s.DinnerEndTime, "21:00") }
func (s Settings) SummaryAt() Clock   { return clockOr(s.DailySummaryTime, "07:30") }

// WithinWorkHours reports whether now falls inside [WorkStart, WorkEnd].
// A window that wraps midnight is honoured.
func (s Settings) WithinWorkHours(now time.Time) bool {
	cur := now.Hour()*60 + now.Minute()
	start, end := s.WorkStart().Minutes(), s.WorkEnd().Minutes()
	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}

// TravelMinutes returns the default one-way travel time for a location context.
func (s Settings) TravelMinutes(lc LocationContext) int {
	switch lc {
	case LocationNearby:
		return s.TravelTimeNearbyMinutes
	case LocationFar:
		return s.TravelTimeFarMinutes
	default:
		return s.TravelTimeOfficeMinutes
	}
}

// ReminderOffsets returns the configured minutes-before offsets plus the
// implicit at-start offset, deduplicated, largest first.
func (s Settings) ReminderOffsets() []int {
	seen := map[int]bool{}
	var out []int
	for _, m := range []int{s.FirstReminder, s.SecondReminder, s.ThirdReminder, 0} {
		if m < 0 || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b int) int { return b - a })
	return out
}
