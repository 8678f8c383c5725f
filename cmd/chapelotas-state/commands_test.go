package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/chapelotas/internal/activity"
	"github.com/vthunder/chapelotas/internal/app"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
)

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(app.Env{StatePath: dir})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func seedTask(t *testing.T, dir string, task types.Task) {
	t.Helper()
	st, err := store.Open(dir)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.UpsertTask(task))
}

func TestTasksEmpty(t *testing.T) {
	out, err := run(t, t.TempDir(), "tasks")
	require.NoError(t, err)
	assert.Equal(t, "No active tasks.\n", out)
}

func TestAckThenListTasks(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	seedTask(t, dir, types.Task{
		ID:            "t1",
		Title:         "Dentist",
		Kind:          types.KindEvent,
		ScheduledTime: now.Add(3 * time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	out, err := run(t, dir, "ack", "dent")
	require.NoError(t, err)
	assert.Equal(t, "Acknowledged Dentist (t1)\n", out)

	out, err = run(t, dir, "tasks")
	require.NoError(t, err)
	assert.Contains(t, out, "Dentist")
	assert.Contains(t, out, "ack")

	out, err = run(t, dir, "actions", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "CLEANUP")
}

func TestAckUnknownTask(t *testing.T) {
	_, err := run(t, t.TempDir(), "ack", "nothing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFreeRejectsBadDate(t *testing.T) {
	_, err := run(t, t.TempDir(), "free", "--date", "tomorrow")
	assert.Error(t, err)
}

func TestFreeWholeDay(t *testing.T) {
	out, err := run(t, t.TempDir(), "free", "--date", "2030-01-02")
	require.NoError(t, err)
	assert.Contains(t, out, "08:00 - 09:00   60 min")
	assert.Contains(t, out, "22:00 - 23:00   60 min")
}

func TestSettingsShowsDefaults(t *testing.T) {
	out, err := run(t, t.TempDir(), "settings")
	require.NoError(t, err)
	assert.Contains(t, out, "snooze_minutes: 15")
}

func TestStatusAfterTick(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "tick")
	require.NoError(t, err)

	out, err := run(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Active tasks:   0")
	assert.NotContains(t, out, "Last pass:      -")
}

func TestActivity(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "activity")
	require.NoError(t, err)
	assert.Equal(t, "No activity.\n", out)

	log := activity.New(dir)
	require.NoError(t, log.Log(activity.Entry{Type: activity.TypeReminder, Summary: "Dentist in 10 minutes"}))
	require.NoError(t, log.Log(activity.Entry{Type: activity.TypeResponse, Summary: "dismiss"}))

	out, err = run(t, dir, "activity", "--type", "response")
	require.NoError(t, err)
	assert.Contains(t, out, "dismiss")
	assert.NotContains(t, out, "Dentist")

	out, err = run(t, dir, "activity", "--search", "dentist")
	require.NoError(t, err)
	assert.Contains(t, out, "reminder")
}
