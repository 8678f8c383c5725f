package activity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/types"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newLog(t *testing.T) *Log {
	t.Helper()
	l := New(t.TempDir())
	l.now = func() time.Time { return base }
	return l
}

func TestLogCreatesFile(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.now = func() time.Time { return base }
	require.NoError(t, l.Log(Entry{Type: TypeReminder, Summary: "Dentist in 10 minutes"}))

	assert.Equal(t, filepath.Join(dir, "system", "activity.jsonl"), l.Path())
	_, err := os.Stat(l.Path())
	require.NoError(t, err)

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Timestamp.Equal(base), "zero timestamp is stamped with now")
}

func TestRecentEmpty(t *testing.T) {
	entries, err := newLog(t).Recent(5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecentKeepsTail(t *testing.T) {
	l := newLog(t)
	for i, s := range []string{"one", "two", "three", "four"} {
		require.NoError(t, l.Log(Entry{Timestamp: base.Add(time.Duration(i) * time.Minute), Type: TypeAction, Summary: s}))
	}

	entries, err := l.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "three", entries[0].Summary)
	assert.Equal(t, "four", entries[1].Summary)

	all, err := l.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSkipsMalformedLines(t *testing.T) {
	l := newLog(t)
	require.NoError(t, l.Log(Entry{Type: TypePass, Summary: "ok"}))

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, l.Log(Entry{Type: TypePass, Summary: "still ok"}))

	entries, err := l.Recent(0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSince(t *testing.T) {
	l := newLog(t)
	require.NoError(t, l.Log(Entry{Timestamp: base.Add(-25 * time.Hour), Type: TypeReminder, Summary: "yesterday"}))
	require.NoError(t, l.Log(Entry{Timestamp: base, Type: TypeReminder, Summary: "today"}))

	entries, err := l.Since(base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "today", entries[0].Summary)
}

func TestSearchAndByType(t *testing.T) {
	l := newLog(t)
	require.NoError(t, l.Log(Entry{Type: TypeReminder, Summary: "Dentist starts now", TaskID: "t1"}))
	require.NoError(t, l.Log(Entry{Type: TypeResponse, Summary: "snooze", TaskID: "t1"}))
	require.NoError(t, l.Log(Entry{Type: TypeDegraded, Summary: "cannot arm main alarm", Data: map[string]any{"error": "permission denied"}}))
	require.NoError(t, l.Log(Entry{Type: TypeReminder, Summary: "Standup in 10 minutes", TaskID: "t2"}))

	tests := []struct {
		name  string
		query string
		limit int
		want  []string
	}{
		{"summary", "dentist", 0, []string{"Dentist starts now"}},
		{"task id newest first", "t1", 0, []string{"snooze", "Dentist starts now"}},
		{"data", "PERMISSION", 0, []string{"cannot arm main alarm"}},
		{"type", "reminder", 1, []string{"Standup in 10 minutes"}},
		{"none", "gym", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.Search(tt.query, tt.limit)
			require.NoError(t, err)
			var got []string
			for _, e := range entries {
				got = append(got, e.Summary)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	reminders, err := l.ByType(TypeReminder, 0)
	require.NoError(t, err)
	require.Len(t, reminders, 2)
	assert.Equal(t, "t2", reminders[0].TaskID)
}

func TestAttach(t *testing.T) {
	l := newLog(t)
	bus := eventbus.New(16)
	l.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Start(ctx)

	until := base.Add(15 * time.Minute)
	bus.PublishReminderDispatched(eventbus.ReminderDispatchedPayload{TaskID: "t1", NotificationID: "n1", Message: "Dentist in 10 minutes"})
	bus.PublishCheckCompleted(eventbus.CheckCompletedPayload{At: base, Reason: "heartbeat"})
	bus.PublishActionCompleted(eventbus.ActionCompletedPayload{Action: types.AgendaAction{ID: "a1", Kind: types.DailySummary{}}, Skipped: true})
	bus.PublishUserResponded(eventbus.UserRespondedPayload{NotificationID: "n1", EventID: "t1", Action: types.ActionSnooze, SnoozeUntil: &until})
	bus.PublishCheckCompleted(eventbus.CheckCompletedPayload{At: base, Reason: "alarm", Reminders: 1})

	var entries []Entry
	require.Eventually(t, func() bool {
		entries, _ = l.Recent(0)
		return len(entries) == 4
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, TypeReminder, entries[0].Type)
	assert.Equal(t, "n1", entries[0].NotificationID)
	assert.Equal(t, "DAILY_SUMMARY skipped", entries[1].Summary)
	assert.Equal(t, TypeResponse, entries[2].Type)
	assert.Equal(t, "snooze", entries[2].Summary)
	assert.Contains(t, entries[2].Data, "snooze_until")
	assert.Equal(t, "alarm: 1 reminders, 0 actions", entries[3].Summary)
}
