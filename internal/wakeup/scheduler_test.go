package wakeup

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/chapelotas/internal/platform"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	action   *types.AgendaAction
	reminder *time.Time
	snooze   *time.Time
	kv       map[string]time.Time
}

func newFakeStore() *fakeStore { return &fakeStore{kv: map[string]time.Time{}} }

func (f *fakeStore) NextPendingAction() (*types.AgendaAction, error) { return f.action, nil }
func (f *fakeStore) NextReminderAt() (*time.Time, error)             { return f.reminder, nil }
func (f *fakeStore) NextSnoozeAt() (*time.Time, error)               { return f.snooze, nil }
func (f *fakeStore) SetTime(key string, t time.Time) error           { f.kv[key] = t; return nil }
func (f *fakeStore) DeleteKey(key string) error                      { delete(f.kv, key); return nil }

func (f *fakeStore) GetTime(key string) (*time.Time, error) {
	t, ok := f.kv[key]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

type fakeAlarm struct {
	armed     map[string]time.Time
	cancelled []string
	err       error
}

func newFakeAlarm() *fakeAlarm { return &fakeAlarm{armed: map[string]time.Time{}} }

func (f *fakeAlarm) Arm(purpose string, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.armed[purpose] = at
	return nil
}

func (f *fakeAlarm) Cancel(purpose string) {
	f.cancelled = append(f.cancelled, purpose)
	delete(f.armed, purpose)
}

func ptr(t time.Time) *time.Time { return &t }

func TestNextWakeupTakesEarliest(t *testing.T) {
	st := newFakeStore()
	st.action = &types.AgendaAction{ScheduledTime: now.Add(12 * time.Minute)}
	st.reminder = ptr(now.Add(5 * time.Minute))
	st.snooze = ptr(now.Add(8 * time.Minute))
	s := NewScheduler(st, newFakeAlarm(), platform.Unlimited())

	next, err := s.NextWakeup(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(5*time.Minute), next)
}

func TestNextWakeupNeverLaterThanHeartbeat(t *testing.T) {
	st := newFakeStore()
	st.action = &types.AgendaAction{ScheduledTime: now.Add(3 * time.Hour)}
	st.reminder = ptr(now.Add(2 * time.Hour))
	s := NewScheduler(st, newFakeAlarm(), platform.Unlimited())

	next, err := s.NextWakeup(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(HeartbeatInterval), next)
}

func TestNextWakeupFallsBackToHeartbeat(t *testing.T) {
	s := NewScheduler(newFakeStore(), newFakeAlarm(), platform.Unlimited())
	next, err := s.NextWakeup(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(HeartbeatInterval), next)
}

func TestArmClampsPastTargets(t *testing.T) {
	st := newFakeStore()
	alarm := newFakeAlarm()
	s := NewScheduler(st, alarm, platform.Unlimited())

	armed, err := s.ArmAt(now.Add(-5*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), armed)
	assert.Equal(t, now.Add(time.Minute), alarm.armed[PurposeMain])
	assert.Equal(t, now.Add(time.Minute), st.kv[store.KeyNextAlarmAt])

	armed, err = s.ArmAt(now, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), armed)
}

func TestArmCancelsBeforeArming(t *testing.T) {
	alarm := newFakeAlarm()
	s := NewScheduler(newFakeStore(), alarm, platform.Unlimited())

	_, err := s.ArmAt(now.Add(10*time.Minute), now)
	require.NoError(t, err)
	_, err = s.ArmAt(now.Add(20*time.Minute), now)
	require.NoError(t, err)

	assert.Len(t, alarm.armed, 1)
	assert.Equal(t, now.Add(20*time.Minute), alarm.armed[PurposeMain])
	assert.Contains(t, alarm.cancelled, PurposeMain)
}

func TestCappedHostHopsThroughIntermediate(t *testing.T) {
	st := newFakeStore()
	alarm := newFakeAlarm()
	s := NewScheduler(st, alarm, platform.Static("test", 270*time.Minute))

	target := now.Add(10 * time.Hour)
	armed, err := s.ArmAt(target, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(250*time.Minute), armed)
	assert.Equal(t, armed, alarm.armed[PurposeIntermediate])
	assert.Equal(t, target, st.kv[store.KeyFinalAlarmTarget])
	_, hasMain := alarm.armed[PurposeMain]
	assert.False(t, hasMain)

	// first hop: still 350 minutes out, so another intermediate
	hop1 := armed
	fire, err := s.OnIntermediate(hop1)
	require.NoError(t, err)
	assert.False(t, fire)
	assert.Equal(t, hop1.Add(250*time.Minute), alarm.armed[PurposeIntermediate])

	// second hop: 100 minutes left, within the cap
	hop2 := alarm.armed[PurposeIntermediate]
	fire, err = s.OnIntermediate(hop2)
	require.NoError(t, err)
	assert.False(t, fire)
	assert.Equal(t, target, alarm.armed[PurposeMain])
	_, pending := st.kv[store.KeyFinalAlarmTarget]
	assert.False(t, pending)
}

func TestIntermediateFollowUpStopsShortOfTarget(t *testing.T) {
	st := newFakeStore()
	alarm := newFakeAlarm()
	s := NewScheduler(st, alarm, platform.Static("test", 100*time.Minute))
	st.kv[store.KeyFinalAlarmTarget] = now.Add(105 * time.Minute)

	_, err := s.OnIntermediate(now)
	require.NoError(t, err)
	// min(cap-20m, remaining-10m) = min(80m, 95m)
	assert.Equal(t, now.Add(80*time.Minute), alarm.armed[PurposeIntermediate])
}

func TestIntermediateLateTargets(t *testing.T) {
	st := newFakeStore()
	s := NewScheduler(st, newFakeAlarm(), platform.Static("test", 270*time.Minute))

	st.kv[store.KeyFinalAlarmTarget] = now.Add(-3 * time.Minute)
	fire, err := s.OnIntermediate(now)
	require.NoError(t, err)
	assert.True(t, fire)

	st.kv[store.KeyFinalAlarmTarget] = now.Add(-30 * time.Minute)
	fire, err = s.OnIntermediate(now)
	require.NoError(t, err)
	assert.False(t, fire)
	assert.Empty(t, st.kv)
}

func TestPermissionFailureDegrades(t *testing.T) {
	alarm := newFakeAlarm()
	alarm.err = ErrPermission
	s := NewScheduler(newFakeStore(), alarm, platform.Unlimited())

	_, err := s.ArmAt(now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.True(t, s.Degraded())

	alarm.err = nil
	_, err = s.ArmAt(now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.False(t, s.Degraded())
}

func TestOtherArmFailuresReturnError(t *testing.T) {
	alarm := newFakeAlarm()
	alarm.err = errors.New("boom")
	s := NewScheduler(newFakeStore(), alarm, platform.Unlimited())

	_, err := s.ArmAt(now.Add(time.Hour), now)
	assert.Error(t, err)
	assert.True(t, s.Degraded())
}
