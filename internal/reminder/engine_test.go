package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
)

type fakeDispatcher struct {
	sent []types.Notification
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, n types.Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

func setup(t *testing.T) (*Engine, *store.Store, *fakeDispatcher) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	d := &fakeDispatcher{}
	return New(st, phrases(t), d), st, d
}

func ptr(t time.Time) *time.Time { return &t }

func TestProcessDueFiresAndAdvances(t *testing.T) {
	e, st, d := setup(t)
	task := event(at(14, 0))
	task.NextReminderAt = ptr(at(15, 0))
	require.NoError(t, st.UpsertTask(task))

	now := at(15, 3)
	sent, err := e.ProcessDue(context.Background(), now, settings())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, d.sent, 1)
	assert.Equal(t, "t1", d.sent[0].EventID)

	got, err := st.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReminderCount)
	assert.Equal(t, now.Add(10*time.Minute).UnixMilli(), got.NextReminderAt.UnixMilli())

	stored, err := st.GetNotification(d.sent[0].ID)
	require.NoError(t, err)
	assert.Equal(t, d.sent[0].Message, stored.Message)

	conv, err := st.Conversation(types.ThreadID("t1"), 10)
	require.NoError(t, err)
	assert.Len(t, conv, 1)

	// not due again until the new next reminder
	sent, err = e.ProcessDue(context.Background(), now.Add(time.Minute), settings())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestDispatchFailureStillAdvances(t *testing.T) {
	e, st, d := setup(t)
	d.err = errors.New("offline")
	task := event(at(14, 0))
	task.NextReminderAt = ptr(at(15, 0))
	require.NoError(t, st.UpsertTask(task))

	now := at(15, 3)
	_, err := e.ProcessDue(context.Background(), now, settings())
	require.NoError(t, err)

	got, err := st.GetTask("t1")
	require.NoError(t, err)
	require.NotNil(t, got.NextReminderAt)
	assert.True(t, got.NextReminderAt.After(now))
	assert.Equal(t, 1, got.ReminderCount)
}

func TestUnsetNextReminderIsOnlyRescheduled(t *testing.T) {
	e, st, d := setup(t)
	require.NoError(t, st.UpsertTask(event(at(14, 0))))

	sent, err := e.ProcessDue(context.Background(), at(12, 0), settings())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, d.sent)

	got, err := st.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, at(13, 0).UnixMilli(), got.NextReminderAt.UnixMilli())
}

func TestSuppressedReminderAdvancesWithoutCounting(t *testing.T) {
	e, st, d := setup(t)
	s := settings()
	s.WorkHours24h = false
	s.WorkStartTime, s.WorkEndTime = "09:00", "18:00"

	task := event(at(14, 0).AddDate(0, 0, 1))
	task.NextReminderAt = ptr(at(19, 0))
	require.NoError(t, st.UpsertTask(task))

	now := at(19, 30)
	_, err := e.ProcessDue(context.Background(), now, s)
	require.NoError(t, err)
	assert.Empty(t, d.sent)

	got, err := st.GetTask("t1")
	require.NoError(t, err)
	assert.Zero(t, got.ReminderCount)
	assert.True(t, got.NextReminderAt.After(now))
}

func TestResyncMatchesIncremental(t *testing.T) {
	e, st, _ := setup(t)
	s := settings()
	now := at(13, 20)

	a := event(at(14, 0))
	b := event(at(12, 0))
	b.ID = "t2"
	b.IsAcknowledged = true
	require.NoError(t, st.UpsertTask(a))
	require.NoError(t, st.UpsertTask(b))

	n, err := e.Resync(now, s)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, task := range []types.Task{a, b} {
		got, err := st.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, NextReminderAt(task, now, s).UnixMilli(), got.NextReminderAt.UnixMilli(), task.ID)
	}
}
