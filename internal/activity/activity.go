// Package activity keeps a human-readable JSONL journal of what the daemon
// did: reminders sent, actions run, user responses and alarm trouble.
package activity

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/logging"
)

// Type identifies what kind of activity this is
type Type string

const (
	TypeReminder Type = "reminder" // reminder engine fired
	TypeAction   Type = "action"   // agenda action completed or skipped
	TypeResponse Type = "response" // user snoozed, dismissed, opened or ignored
	TypePass     Type = "pass"     // monitoring pass that did something
	TypeDegraded Type = "degraded" // exact alarm could not be armed
)

// Entry is one line of the journal
type Entry struct {
	Timestamp      time.Time      `json:"ts"`
	Type           Type           `json:"type"`
	Summary        string         `json:"summary"`
	TaskID         string         `json:"task_id,omitempty"`
	NotificationID string         `json:"notification_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Log appends to and reads state/system/activity.jsonl
type Log struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func New(statePath string) *Log {
	return &Log{
		path: filepath.Join(statePath, "system", "activity.jsonl"),
		now:  time.Now,
	}
}

func (l *Log) Path() string { return l.path }

// Log appends an entry, stamping it when the timestamp is unset.
func (l *Log) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// Attach journals the bus events worth keeping. Quiet passes are skipped.
func (l *Log) Attach(bus *eventbus.EventBus) {
	write := func(e Entry) {
		if err := l.Log(e); err != nil {
			logging.Warn("activity", "write: %v", err)
		}
	}

	bus.SubscribeReminderDispatched(func(p eventbus.ReminderDispatchedPayload) {
		e := Entry{
			Type:           TypeReminder,
			Summary:        logging.Truncate(p.Message, 120),
			TaskID:         p.TaskID,
			NotificationID: p.NotificationID,
		}
		if !p.NextReminderAt.IsZero() {
			e.Data = map[string]any{"next_reminder_at": p.NextReminderAt}
		}
		write(e)
	})
	bus.SubscribeActionCompleted(func(p eventbus.ActionCompletedPayload) {
		summary := p.Action.Kind.Name()
		if p.Skipped {
			summary += " skipped"
		}
		write(Entry{
			Type:    TypeAction,
			Summary: summary,
			TaskID:  p.Action.EventID,
			Data:    map[string]any{"action_id": p.Action.ID, "scheduled": p.Action.ScheduledTime},
		})
	})
	bus.SubscribeUserResponded(func(p eventbus.UserRespondedPayload) {
		e := Entry{
			Type:           TypeResponse,
			Summary:        strings.ToLower(string(p.Action)),
			TaskID:         p.EventID,
			NotificationID: p.NotificationID,
		}
		if p.SnoozeUntil != nil {
			e.Data = map[string]any{"snooze_until": *p.SnoozeUntil}
		}
		write(e)
	})
	bus.SubscribeCheckCompleted(func(p eventbus.CheckCompletedPayload) {
		if p.Reminders == 0 && p.Actions == 0 {
			return
		}
		write(Entry{
			Timestamp: p.At,
			Type:      TypePass,
			Summary:   fmt.Sprintf("%s: %d reminders, %d actions", p.Reason, p.Reminders, p.Actions),
		})
	})
	bus.SubscribeWakeupDegraded(func(p eventbus.WakeupDegradedPayload) {
		e := Entry{Type: TypeDegraded, Summary: "cannot arm " + p.Purpose + " alarm"}
		if p.Err != nil {
			e.Data = map[string]any{"error": p.Err.Error()}
		}
		write(e)
	})
}

// Recent returns the last n entries, oldest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// Since returns entries at or after t.
func (l *Log) Since(t time.Time) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(t) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Search returns up to limit entries, newest first, whose type, summary or
// data mention query.
func (l *Log) Search(query string, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(query)
	var out []Entry
	for i := len(entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := entries[i]
		hay := strings.ToLower(string(e.Type) + " " + e.Summary + " " + e.TaskID)
		if e.Data != nil {
			data, _ := json.Marshal(e.Data)
			hay += " " + strings.ToLower(string(data))
		}
		if strings.Contains(hay, query) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ByType returns up to limit entries of type t, newest first.
func (l *Log) ByType(t Type, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for i := len(entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if entries[i].Type == t {
			out = append(out, entries[i])
		}
	}
	return out, nil
}

// readAll skips malformed lines; a missing file is an empty log.
func (l *Log) readAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
