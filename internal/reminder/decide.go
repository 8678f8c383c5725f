// Package reminder decides when each task should nag the user next and
// sends the nags that are due.
package reminder

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vthunder/chapelotas/internal/persona"
	"github.com/vthunder/chapelotas/internal/temporal"
	"github.com/vthunder/chapelotas/internal/types"
)

const (
	// todos fire at this minute past the hour
	todoMinute = 5

	windowBefore    = 720 // minutes after start a reminder may still go out
	windowAhead     = 120 // minutes before start a reminder may go out
	earlyMorningCut = 8   // tomorrow's tasks before this hour are always in window
)

// Phrases renders personality text. *persona.Provider implements it.
type Phrases interface {
	Get(personality, contextKey string, placeholders map[string]string) string
}

// Plan is what the engine decided for one task at one instant.
type Plan struct {
	State    temporal.State
	Next     *time.Time // nil: no further reminder
	Message  string
	Channel  string
	Priority types.Priority
	Send     bool // inside the notification window and allowed by work hours
}

// NextReminderAt computes when task should nag next. The result is nil for
// tasks that get no reminder, and otherwise strictly after now.
func NextReminderAt(task types.Task, now time.Time, s types.Settings) *time.Time {
	if !task.Active() {
		return nil
	}
	if task.IsTodo() {
		if !types.SameDay(task.ScheduledTime, now) {
			return nil
		}
		y, mo, d := now.Date()
		next := time.Date(y, mo, d, now.Hour(), todoMinute, 0, 0, now.Location())
		if now.Minute() >= todoMinute {
			next = next.Add(time.Hour)
		}
		return &next
	}

	s = s.Normalize()
	var next time.Time
	switch temporal.Classify(task, now) {
	case temporal.Future:
		next = nextOffset(task, now, s)
	case temporal.Present:
		if task.IsAcknowledged {
			next = now.Add(minutes(s.OngoingInterval))
		} else {
			next = now.Add(minutes(s.MissedInterval))
		}
	case temporal.Past:
		next = now.Add(minutes(s.MissedInterval))
	}
	return &next
}

// nextOffset is the earliest start-minus-offset instant still ahead of now.
func nextOffset(task types.Task, now time.Time, s types.Settings) time.Time {
	var best time.Time
	for _, m := range s.ReminderOffsets() {
		c := task.ScheduledTime.Add(-time.Duration(m) * time.Minute)
		if c.After(now) && (best.IsZero() || c.Before(best)) {
			best = c
		}
	}
	if best.IsZero() {
		return now.Add(time.Minute)
	}
	return best
}

// InWindow reports whether a reminder for task may be shown at now. Tasks
// outside the window are rescheduled silently.
func InWindow(task types.Task, state temporal.State, now time.Time) bool {
	if task.IsTodo() && types.SameDay(task.ScheduledTime, now) {
		return true
	}
	if m := temporal.MinutesUntil(task, now); m >= -windowBefore && m <= windowAhead {
		return true
	}
	if types.SameDay(task.ScheduledTime, now.AddDate(0, 0, 1)) && task.ScheduledTime.In(now.Location()).Hour() < earlyMorningCut {
		return true
	}
	if state == temporal.Present && !task.IsAcknowledged {
		return true
	}
	return state == temporal.Past && types.SameDay(task.ScheduledTime, now)
}

// OutsideWorkHours reports whether the work-hours gate suppresses task.
func OutsideWorkHours(task types.Task, now time.Time, s types.Settings) bool {
	if s.WorkHours24h || task.IsTodo() {
		return false
	}
	return !s.WithinWorkHours(now)
}

// Channel picks the notification channel for a reminder.
func Channel(task types.Task, state temporal.State, s types.Settings) string {
	if task.IsTodo() || (state == temporal.Present && !task.IsAcknowledged) {
		return types.ChannelGeneral
	}
	if state == temporal.Present || state == temporal.Past {
		return InsistenceChannel(s)
	}
	return types.ChannelGeneral
}

// InsistenceChannel maps the insistence profile to a channel.
func InsistenceChannel(s types.Settings) string {
	switch s.InsistenceProfile {
	case types.InsistenceNormal:
		return types.ChannelInsistenceNormal
	case types.InsistenceLow:
		return types.ChannelInsistenceLow
	default:
		return types.ChannelInsistenceMedium
	}
}

// Message renders the reminder text for task in its current state.
func Message(p Phrases, task types.Task, state temporal.State, now time.Time, s types.Settings) string {
	if task.IsTodo() {
		return fmt.Sprintf("Pending to-do: '%s'", task.Title)
	}
	if p == nil {
		return "Reminder: " + task.Title
	}

	placeholders := map[string]string{
		"{TASK_NAME}": task.Title,
		"{USER_NAME}": s.UserName,
	}
	var key, suffix string
	switch state {
	case temporal.Future:
		until := temporal.MinutesUntil(task, now) + 1
		placeholders["{MINUTES}"] = strconv.Itoa(until)
		key = persona.UpcomingReminder
		suffix = TravelHint(until, task.TravelTimeMinutes)
	case temporal.Present:
		key = persona.OngoingReminder
	default:
		key = persona.DelayedReminder
	}

	msg := p.Get(persona.For(s), key+"."+persona.AckSuffix(task.IsAcknowledged), placeholders)
	if msg == "" {
		msg = "Reminder: " + task.Title
	}
	return msg + suffix
}

// TravelHint tells the user when to leave for a task minutesUntil ahead.
func TravelHint(minutesUntil, travel int) string {
	if travel <= 0 {
		return ""
	}
	leaveIn := minutesUntil - travel
	switch {
	case leaveIn > 10:
		return fmt.Sprintf(" (leave in %d min)", leaveIn)
	case leaveIn > 0:
		return " (get ready to leave!)"
	default:
		return " (you should be on your way!)"
	}
}

// Decide builds the complete plan for task at now.
func Decide(p Phrases, task types.Task, now time.Time, s types.Settings) Plan {
	state := temporal.Classify(task, now)
	plan := Plan{
		State:    state,
		Next:     NextReminderAt(task, now, s),
		Channel:  Channel(task, state, s),
		Priority: types.PriorityNormal,
	}
	if !task.Active() {
		return plan
	}
	if task.IsTodo() && plan.Next == nil {
		return plan
	}
	plan.Send = InWindow(task, state, now) && !OutsideWorkHours(task, now, s)
	if plan.Send {
		plan.Message = Message(p, task, state, now, s)
	}
	return plan
}

// minutes floors cadence intervals at one minute.
func minutes(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * time.Minute
}
