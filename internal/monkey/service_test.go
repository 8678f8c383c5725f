package monkey

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/chapelotas/internal/agenda"
	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/platform"
	"github.com/vthunder/chapelotas/internal/reminder"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
	"github.com/vthunder/chapelotas/internal/wakeup"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeDispatcher struct{ sent []types.Notification }

func (f *fakeDispatcher) Dispatch(_ context.Context, n types.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

type fakeAlarm struct{ armed map[string]time.Time }

func (f *fakeAlarm) Arm(purpose string, at time.Time) error {
	f.armed[purpose] = at
	return nil
}

func (f *fakeAlarm) Cancel(purpose string) { delete(f.armed, purpose) }

type fixture struct {
	st    *store.Store
	disp  *fakeDispatcher
	alarm *fakeAlarm
	svc   *Service
}

func setup(t *testing.T, bus *eventbus.EventBus) *fixture {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{st: st, disp: &fakeDispatcher{}, alarm: &fakeAlarm{armed: map[string]time.Time{}}}
	f.svc = New(Config{
		Store:      st,
		Reminders:  reminder.New(st, nil, f.disp),
		Agenda:     agenda.NewProcessor(st, nil, nil, f.disp),
		Planner:    agenda.NewPlanner(st),
		Wakeup:     wakeup.NewScheduler(st, f.alarm, platform.Unlimited()),
		Dispatcher: f.disp,
		Now:        func() time.Time { return now },
		Events:     bus,
	})
	return f
}

func (f *fixture) task(t *testing.T, task types.Task) {
	t.Helper()
	task.UpdatedAt = now.Add(-time.Hour)
	require.NoError(t, f.st.UpsertTask(task))
}

func (f *fixture) notification(t *testing.T, id, eventID string, snoozedUntil time.Time) {
	t.Helper()
	require.NoError(t, f.st.InsertNotification(types.Notification{
		ID:            id,
		EventID:       eventID,
		Title:         "Dentist",
		Message:       "Dentist soon",
		ScheduledTime: now.Add(-20 * time.Minute),
		SnoozedUntil:  &snoozedUntil,
		CreatedAt:     now.Add(-20 * time.Minute),
	}))
}

func TestTickFiresDueReminderAndArms(t *testing.T) {
	f := setup(t, nil)
	due := now.Add(-time.Minute)
	f.task(t, types.Task{ID: "t1", Title: "Dentist", ScheduledTime: now.Add(10 * time.Minute), NextReminderAt: &due})

	report, err := f.svc.Tick(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminders)
	require.Len(t, f.disp.sent, 1)
	assert.Equal(t, "t1", f.disp.sent[0].EventID)

	// next reminder is the at-start one
	armed, ok := f.alarm.armed[wakeup.PurposeMain]
	require.True(t, ok)
	assert.True(t, armed.Equal(now.Add(10*time.Minute)), "armed %s", armed)
	require.NotNil(t, report.NextAlarm)
	assert.True(t, report.NextAlarm.Equal(armed))

	last, err := f.st.GetTime(store.KeyLastPassAt)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(now))
}

func TestSecondTickDoesNotRepeatReminder(t *testing.T) {
	f := setup(t, nil)
	due := now.Add(-time.Minute)
	f.task(t, types.Task{ID: "t1", Title: "Dentist", ScheduledTime: now.Add(10 * time.Minute), NextReminderAt: &due})

	_, err := f.svc.Tick(context.Background(), "first")
	require.NoError(t, err)
	_, err = f.svc.Tick(context.Background(), "second")
	require.NoError(t, err)
	assert.Len(t, f.disp.sent, 1)
}

func TestTickSeedsDailyActions(t *testing.T) {
	f := setup(t, nil)
	_, err := f.svc.Tick(context.Background(), "test")
	require.NoError(t, err)

	actions, err := f.st.ListActions(false, 10)
	require.NoError(t, err)
	var kinds []string
	for _, a := range actions {
		kinds = append(kinds, a.Kind.Name())
	}
	assert.ElementsMatch(t, []string{"DAILY_SUMMARY", "CLEANUP"}, kinds)
}

func TestSnoozedNotificationIsShownAgain(t *testing.T) {
	f := setup(t, nil)
	f.task(t, types.Task{ID: "t1", Title: "Dentist", ScheduledTime: now.Add(2 * time.Hour)})
	f.notification(t, "n1", "t1", now.Add(-time.Minute))

	report, err := f.svc.Tick(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Snoozed)
	require.Len(t, f.disp.sent, 1)
	assert.Equal(t, "n1", f.disp.sent[0].ID)

	n, err := f.st.GetNotification("n1")
	require.NoError(t, err)
	assert.Nil(t, n.SnoozedUntil)
	assert.True(t, n.ScheduledTime.Equal(now))
}

func TestSnoozeOfFinishedTaskIsClosed(t *testing.T) {
	f := setup(t, nil)
	f.task(t, types.Task{ID: "t1", Title: "Dentist", ScheduledTime: now.Add(-2 * time.Hour), IsFinished: true})
	f.notification(t, "n1", "t1", now.Add(-time.Minute))

	report, err := f.svc.Tick(context.Background(), "test")
	require.NoError(t, err)
	assert.Zero(t, report.Snoozed)
	assert.Empty(t, f.disp.sent)

	n, err := f.st.GetNotification("n1")
	require.NoError(t, err)
	assert.True(t, n.Executed)
}

func TestFutureSnoozeWaits(t *testing.T) {
	f := setup(t, nil)
	f.task(t, types.Task{ID: "t1", Title: "Dentist", ScheduledTime: now.Add(3 * time.Hour)})
	f.notification(t, "n1", "t1", now.Add(5*time.Minute))

	_, err := f.svc.Tick(context.Background(), "test")
	require.NoError(t, err)
	assert.Empty(t, f.disp.sent)
	assert.True(t, f.alarm.armed[wakeup.PurposeMain].Equal(now.Add(5*time.Minute)))
}

func TestIntermediateAlarmWithoutTargetSkipsPass(t *testing.T) {
	f := setup(t, nil)
	f.svc.OnAlarm(context.Background(), wakeup.PurposeIntermediate)

	last, err := f.st.GetTime(store.KeyLastPassAt)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestIntermediateAlarmAtTargetRunsPass(t *testing.T) {
	f := setup(t, nil)
	require.NoError(t, f.st.SetTime(store.KeyFinalAlarmTarget, now.Add(-2*time.Minute)))
	f.svc.OnAlarm(context.Background(), wakeup.PurposeIntermediate)

	last, err := f.st.GetTime(store.KeyLastPassAt)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(now))
}

func TestMainAlarmRunsPass(t *testing.T) {
	f := setup(t, nil)
	f.svc.OnAlarm(context.Background(), wakeup.PurposeMain)

	last, err := f.st.GetTime(store.KeyLastPassAt)
	require.NoError(t, err)
	assert.NotNil(t, last)
}

func TestTickPublishesCheckCompleted(t *testing.T) {
	bus := eventbus.New(8)
	got := make(chan eventbus.CheckCompletedPayload, 1)
	bus.SubscribeCheckCompleted(func(p eventbus.CheckCompletedPayload) { got <- p })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Start(ctx)

	f := setup(t, bus)
	_, err := f.svc.Tick(ctx, "heartbeat")
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, "heartbeat", p.Reason)
		assert.NotNil(t, p.NextAlarm)
	case <-time.After(2 * time.Second):
		t.Fatal("no check-completed event")
	}
}

func TestReplanQueuesActions(t *testing.T) {
	f := setup(t, nil)
	task := types.Task{ID: "t1", Title: "Review", ScheduledTime: now.Add(3 * time.Hour)}
	f.task(t, task)

	n, err := f.svc.Replan(context.Background(), task, "test")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	pending, err := f.st.PendingActionsForEvent("t1")
	require.NoError(t, err)
	assert.Len(t, pending, 4)
}

type blockingDispatcher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingDispatcher) Dispatch(_ context.Context, _ types.Notification) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

func TestPlanningWaitsForRunningPass(t *testing.T) {
	f := setup(t, nil)
	task := types.Task{ID: "t1", Title: "Review", ScheduledTime: now.Add(3 * time.Hour)}
	f.task(t, task)
	f.notification(t, "n1", "t1", now.Add(-time.Minute))

	disp := &blockingDispatcher{entered: make(chan struct{}), release: make(chan struct{})}
	svc := New(Config{
		Store:      f.st,
		Reminders:  reminder.New(f.st, nil, disp),
		Agenda:     agenda.NewProcessor(f.st, nil, nil, disp),
		Planner:    agenda.NewPlanner(f.st),
		Wakeup:     wakeup.NewScheduler(f.st, f.alarm, platform.Unlimited()),
		Dispatcher: disp,
		Now:        func() time.Time { return now },
	})

	passDone := make(chan struct{})
	go func() {
		defer close(passDone)
		svc.Tick(context.Background(), "test")
	}()
	<-disp.entered

	planned := make(chan int, 1)
	go func() {
		n, _ := svc.PlanNotificationsForEvent(task, now, types.DefaultSettings())
		planned <- n
	}()

	select {
	case <-planned:
		t.Fatal("planning ran while a pass was dispatching")
	case <-time.After(50 * time.Millisecond):
	}

	close(disp.release)
	<-passDone
	select {
	case n := <-planned:
		assert.Equal(t, 4, n)
	case <-time.After(2 * time.Second):
		t.Fatal("planning never ran")
	}
}
