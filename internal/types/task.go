package types

import "time"

// DefaultDuration is assumed for tasks without an explicit end time.
const DefaultDuration = time.Hour

// TaskKind separates calendar-style events from to-do items
type TaskKind string

const (
	KindEvent TaskKind = "event"
	KindTodo  TaskKind = "todo"
)

// LocationContext selects the default travel time for a task
type LocationContext string

const (
	LocationOffice LocationContext = "office"
	LocationNearby LocationContext = "nearby"
	LocationFar    LocationContext = "far"
)

// Task is the unit of reminding: a calendar event or a to-do.
type Task struct {
	ID              string
	CalendarEventID string
	Title           string
	Description     string
	Location        string
	Kind            TaskKind

	ScheduledTime     time.Time
	EndTime           *time.Time
	TravelTimeMinutes int // one way
	LocationContext   LocationContext

	IsCritical     bool
	IsAllDay       bool
	IsRecurring    bool
	IsFromCalendar bool

	IsAcknowledged bool
	IsStarted      bool
	IsFinished     bool
	IsCancelled    bool // soft delete for calendar-sourced tasks

	ReminderCount     int
	NotificationCount int
	NextReminderAt    *time.Time // nil means "needs recomputation"

	CreatedAt time.Time
	UpdatedAt time.Time
}

// End returns the explicit end time or start+1h.
func (t Task) End() time.Time {
	if t.EndTime != nil {
		return *t.EndTime
	}
	return t.ScheduledTime.Add(DefaultDuration)
}

// IsTodo reports whether the task is a to-do item rather than an event
func (t Task) IsTodo() bool {
	return t.Kind == KindTodo
}

// Active reports whether the task still takes part in reminding.
func (t Task) Active() bool {
	return !t.IsFinished && !t.IsCancelled
}

// Travel returns the one-way travel padding.
func (t Task) Travel() time.Duration {
	if t.TravelTimeMinutes <= 0 {
		return 0
	}
	return time.Duration(t.TravelTimeMinutes) * time.Minute
}

// BusyInterval is the task span padded by travel on both sides.
func (t Task) BusyInterval() (time.Time, time.Time) {
	return t.ScheduledTime.Add(-t.Travel()), t.End().Add(t.Travel())
}

// SameDay reports whether a and b fall on the same calendar day in b's location.
func SameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
