package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/chapelotas/internal/types"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(t time.Time) *time.Time { return &t }

func TestReopenKeepsSchema(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.UpsertTask(types.Task{ID: "t1", Title: "x", ScheduledTime: base, UpdatedAt: base}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Title)
}

func TestTasksDueForReminder(t *testing.T) {
	s := openTest(t)
	tasks := []types.Task{
		{ID: "unset", Title: "a", ScheduledTime: base},
		{ID: "due", Title: "b", ScheduledTime: base, NextReminderAt: ptr(base.Add(-time.Minute))},
		{ID: "exact", Title: "c", ScheduledTime: base, NextReminderAt: ptr(base)},
		{ID: "later", Title: "d", ScheduledTime: base, NextReminderAt: ptr(base.Add(time.Minute))},
		{ID: "finished", Title: "e", ScheduledTime: base, IsFinished: true},
		{ID: "cancelled", Title: "f", ScheduledTime: base, IsCancelled: true},
	}
	for _, tk := range tasks {
		tk.UpdatedAt = base
		require.NoError(t, s.UpsertTask(tk))
	}

	due, err := s.TasksDueForReminder(base)
	require.NoError(t, err)
	var ids []string
	for _, d := range due {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"unset", "due", "exact"}, ids)

	next, err := s.NextReminderAt()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(base.Add(-time.Minute)))
}

func TestFinishClearsNextReminder(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.UpsertTask(types.Task{ID: "t", Title: "x", ScheduledTime: base, NextReminderAt: ptr(base.Add(time.Hour)), UpdatedAt: base}))
	require.NoError(t, s.SetFinished("t", true, base))

	got, err := s.GetTask("t")
	require.NoError(t, err)
	assert.True(t, got.IsFinished)
	assert.Nil(t, got.NextReminderAt)

	assert.ErrorIs(t, s.SetFinished("missing", true, base), ErrNotFound)
}

func TestDeleteOnlyManualTasks(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.UpsertTask(types.Task{ID: "cal", Title: "x", ScheduledTime: base, IsFromCalendar: true, UpdatedAt: base}))
	require.NoError(t, s.UpsertTask(types.Task{ID: "todo", Title: "y", Kind: types.KindTodo, ScheduledTime: base, UpdatedAt: base}))

	assert.Error(t, s.DeleteTask("cal"))
	require.NoError(t, s.DeleteTask("todo"))
	_, err := s.GetTask("todo")
	assert.ErrorIs(t, err, ErrNotFound)
}

func action(id string, at time.Time, kind types.ActionKind, eventID string) types.AgendaAction {
	return types.AgendaAction{ID: id, ScheduledTime: at, Kind: kind, EventID: eventID, CreatedAt: base}
}

func TestPendingActionsDueOrdered(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.InsertAction(action("late", base.Add(-time.Minute), types.NotifyEvent{}, "e1")))
	require.NoError(t, s.InsertAction(action("early", base.Add(-time.Hour), types.DailySummary{}, "")))
	require.NoError(t, s.InsertAction(action("future", base.Add(time.Minute), types.IdleCheck{}, "")))

	due, err := s.PendingActionsDue(base)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].ID)
	assert.IsType(t, types.DailySummary{}, due[0].Kind)
	assert.Equal(t, "late", due[1].ID)

	next, err := s.NextPendingAction()
	require.NoError(t, err)
	assert.Equal(t, "early", next.ID)
}

func TestCompletedActionIsFinal(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.InsertAction(action("a", base, types.Cleanup{}, "")))
	require.NoError(t, s.SetActionStatus("a", types.ActionProcessing, base))
	require.NoError(t, s.SetActionStatus("a", types.ActionCompleted, base))

	assert.Error(t, s.SetActionStatus("a", types.ActionPending, base))
	got, err := s.GetAction("a")
	require.NoError(t, err)
	assert.Equal(t, types.ActionCompleted, got.Status)
	require.NotNil(t, got.ProcessedAt)

	n, err := s.DeleteCompletedBefore(base.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestClaimOnlyPendingActions(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.InsertAction(action("a", base, types.NotifyEvent{}, "e1")))
	require.NoError(t, s.InsertAction(action("b", base, types.NotifyEvent{}, "e2")))
	_, err := s.CancelPendingForEvent("e2", base)
	require.NoError(t, err)

	ok, err := s.ClaimAction("a", base)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ClaimAction("a", base)
	require.NoError(t, err)
	assert.False(t, ok, "second claim")

	ok, err = s.ClaimAction("b", base)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, s.SetActionStatus("b", types.ActionCompleted, base))
	got, err := s.GetAction("b")
	require.NoError(t, err)
	assert.Equal(t, types.ActionCancelled, got.Status)
}

func TestReleaseClaimsBefore(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.InsertAction(action("old", base, types.IdleCheck{}, "")))
	require.NoError(t, s.InsertAction(action("fresh", base, types.Cleanup{}, "")))
	_, err := s.ClaimAction("old", base)
	require.NoError(t, err)
	_, err = s.ClaimAction("fresh", base.Add(20*time.Minute))
	require.NoError(t, err)

	n, err := s.ReleaseClaimsBefore(base.Add(10 * time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	old, err := s.GetAction("old")
	require.NoError(t, err)
	assert.Equal(t, types.ActionPending, old.Status)
	assert.Nil(t, old.ProcessedAt)
	fresh, err := s.GetAction("fresh")
	require.NoError(t, err)
	assert.Equal(t, types.ActionProcessing, fresh.Status)

	due, err := s.PendingActionsDue(base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "old", due[0].ID)
}

func TestCancelPendingForEvent(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.InsertAction(action("a", base, types.NotifyEvent{}, "e1")))
	require.NoError(t, s.InsertAction(action("b", base.Add(time.Hour), types.NotifyEvent{}, "e1")))
	require.NoError(t, s.InsertAction(action("c", base, types.NotifyEvent{}, "e2")))

	n, err := s.CancelPendingForEvent("e1", base)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	left, err := s.PendingActionsForEvent("e1")
	require.NoError(t, err)
	assert.Empty(t, left)
	other, err := s.PendingActionsForEvent("e2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestUndecodableActionSkipped(t *testing.T) {
	s := openTest(t)
	_, err := s.db.Exec(`INSERT INTO agenda_actions (id, scheduled_time, kind, status, created_at) VALUES ('bad', ?, 'SING_SONG', 'PENDING', ?)`, ms(base), ms(base))
	require.NoError(t, err)
	require.NoError(t, s.InsertAction(action("good", base, types.IdleCheck{}, "")))

	due, err := s.PendingActionsDue(base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "good", due[0].ID)
}

func TestConversationAndThreads(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.AppendConversation(types.ConversationEntry{ThreadID: "event_1", Role: types.RoleAssistant, Content: "hi", At: base}))
	require.NoError(t, s.AppendConversation(types.ConversationEntry{ThreadID: "event_1", Role: types.RoleUser, Content: "ok", At: base.Add(time.Minute)}))

	last, err := s.LastUserMessageAt()
	require.NoError(t, err)
	assert.True(t, last.Equal(base.Add(time.Minute)))

	lines, err := s.Conversation("event_1", 10)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "hi", lines[0].Content)

	require.NoError(t, s.CompleteThread("event_1", base))
	n, err := s.ArchiveThreadsBefore(base.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	status, err := s.ThreadStatus("event_1")
	require.NoError(t, err)
	assert.Equal(t, ThreadArchived, status)
}

func TestKVAndDeliveries(t *testing.T) {
	s := openTest(t)
	got, err := s.GetTime(KeyFinalAlarmTarget)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SetTime(KeyFinalAlarmTarget, base))
	got, err = s.GetTime(KeyFinalAlarmTarget)
	require.NoError(t, err)
	assert.True(t, got.Equal(base))

	fresh, err := s.MarkDelivery("n1/SNOOZE/msg", base)
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = s.MarkDelivery("n1/SNOOZE/msg", base)
	require.NoError(t, err)
	assert.False(t, fresh)
}
