// Package wakeup keeps exactly one exact alarm armed for the next piece of
// pending work, hopping through intermediate alarms on hosts that cap how
// far ahead an alarm may be set.
package wakeup

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/metrics"
	"github.com/vthunder/chapelotas/internal/platform"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
)

// ErrPermission is returned by an Alarm that is not allowed to arm exact
// alarms. The scheduler degrades to heartbeats instead of failing.
var ErrPermission = errors.New("exact alarm permission denied")

// Alarm purposes
const (
	PurposeMain         = "main"
	PurposeIntermediate = "intermediate"
)

const (
	MinLead           = time.Minute
	HeartbeatInterval = 15 * time.Minute
	KeepAliveInterval = 45 * time.Minute

	capMargin      = 20 * time.Minute // intermediate hop lands this far before the cap
	followUpMargin = 10 * time.Minute
	lateGrace      = 5 * time.Minute
)

// Alarm arms and cancels OS-level wake-ups, one per purpose.
type Alarm interface {
	Arm(purpose string, at time.Time) error
	Cancel(purpose string)
}

// Store is what the scheduler reads. *store.Store implements it.
type Store interface {
	NextPendingAction() (*types.AgendaAction, error)
	NextReminderAt() (*time.Time, error)
	NextSnoozeAt() (*time.Time, error)

	SetTime(key string, t time.Time) error
	GetTime(key string) (*time.Time, error)
	DeleteKey(key string) error
}

// Scheduler computes and arms the next wake-up.
type Scheduler struct {
	store   Store
	alarm   Alarm
	cap     platform.Capability
	bus     *eventbus.EventBus
	metrics *metrics.Metrics

	mu       sync.Mutex
	degraded bool
}

func NewScheduler(st Store, alarm Alarm, capability platform.Capability) *Scheduler {
	return &Scheduler{store: st, alarm: alarm, cap: capability}
}

func (s *Scheduler) WithEvents(bus *eventbus.EventBus) *Scheduler {
	s.bus = bus
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Degraded reports whether the last arm attempt failed; only heartbeats
// wake the daemon while it is set.
func (s *Scheduler) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// NextWakeup returns the earliest of the next pending action, the next task
// reminder, the next snooze expiry and one heartbeat interval from now.
func (s *Scheduler) NextWakeup(now time.Time) (time.Time, error) {
	fallback := now.Add(HeartbeatInterval)
	var next *time.Time
	consider := func(t *time.Time) {
		if t != nil && (next == nil || t.Before(*next)) {
			next = t
		}
	}

	action, err := s.store.NextPendingAction()
	if err != nil {
		return fallback, fmt.Errorf("next action: %w", err)
	}
	if action != nil {
		consider(&action.ScheduledTime)
	}

	reminder, err := s.store.NextReminderAt()
	if err != nil {
		return fallback, fmt.Errorf("next reminder: %w", err)
	}
	consider(reminder)

	snooze, err := s.store.NextSnoozeAt()
	if err != nil {
		return fallback, fmt.Errorf("next snooze: %w", err)
	}
	consider(snooze)

	if next == nil || next.After(fallback) {
		return fallback, nil
	}
	return *next, nil
}

// Rearm computes the next wake-up and arms it, returning the armed time.
func (s *Scheduler) Rearm(now time.Time) (time.Time, error) {
	target, err := s.NextWakeup(now)
	if err != nil {
		logging.Warn("wakeup", "%v; falling back to heartbeat", err)
	}
	return s.ArmAt(target, now)
}

// Clamp moves a target less than MinLead ahead of now to now+MinLead.
func Clamp(target, now time.Time) time.Time {
	if earliest := now.Add(MinLead); target.Before(earliest) {
		return earliest
	}
	return target
}

// ArmAt arms the main alarm for target. Past or imminent targets are
// clamped to now+MinLead. Beyond the platform cap, the final target is
// persisted and an intermediate alarm is armed instead.
func (s *Scheduler) ArmAt(target, now time.Time) (time.Time, error) {
	target = Clamp(target, now)

	var armed time.Time
	if s.cap.Capped() && target.Sub(now) > s.cap.MaxLookahead {
		if err := s.store.SetTime(store.KeyFinalAlarmTarget, target); err != nil {
			return time.Time{}, fmt.Errorf("persist final target: %w", err)
		}
		armed = Clamp(now.Add(s.cap.MaxLookahead-capMargin), now)
		s.alarm.Cancel(PurposeMain)
		if err := s.arm(PurposeIntermediate, armed); err != nil {
			return time.Time{}, err
		}
		logging.Info("wakeup", "target %s beyond %s cap, hopping at %s",
			target.Format(time.Kitchen), s.cap.MaxLookahead, armed.Format(time.Kitchen))
	} else {
		if err := s.store.DeleteKey(store.KeyFinalAlarmTarget); err != nil {
			logging.Warn("wakeup", "clear final target: %v", err)
		}
		s.alarm.Cancel(PurposeIntermediate)
		armed = target
		if err := s.arm(PurposeMain, armed); err != nil {
			return time.Time{}, err
		}
		logging.Debug("wakeup", "armed for %s", armed.Format(time.DateTime))
	}

	if err := s.store.SetTime(store.KeyNextAlarmAt, armed); err != nil {
		logging.Warn("wakeup", "persist next alarm: %v", err)
	}
	return armed, nil
}

// OnIntermediate handles an intermediate alarm firing. It re-arms the hop
// chain toward the persisted final target and reports whether the final
// target is already due and the caller should run a pass right away.
func (s *Scheduler) OnIntermediate(now time.Time) (bool, error) {
	target, err := s.store.GetTime(store.KeyFinalAlarmTarget)
	if err != nil {
		return false, fmt.Errorf("load final target: %w", err)
	}
	if target == nil {
		logging.Debug("wakeup", "intermediate alarm with no final target")
		return false, nil
	}

	remaining := target.Sub(now)
	switch {
	case remaining > 0 && (!s.cap.Capped() || remaining <= s.cap.MaxLookahead):
		if err := s.store.DeleteKey(store.KeyFinalAlarmTarget); err != nil {
			logging.Warn("wakeup", "clear final target: %v", err)
		}
		_, err := s.armMain(*target, now)
		return false, err

	case remaining > 0:
		hop := s.cap.MaxLookahead - capMargin
		if r := remaining - followUpMargin; r < hop {
			hop = r
		}
		at := Clamp(now.Add(hop), now)
		if err := s.arm(PurposeIntermediate, at); err != nil {
			return false, err
		}
		if err := s.store.SetTime(store.KeyNextAlarmAt, at); err != nil {
			logging.Warn("wakeup", "persist next alarm: %v", err)
		}
		logging.Info("wakeup", "still %s to go, next hop at %s", remaining.Round(time.Minute), at.Format(time.Kitchen))
		return false, nil

	case -remaining <= lateGrace:
		if err := s.store.DeleteKey(store.KeyFinalAlarmTarget); err != nil {
			logging.Warn("wakeup", "clear final target: %v", err)
		}
		return true, nil

	default:
		if err := s.store.DeleteKey(store.KeyFinalAlarmTarget); err != nil {
			logging.Warn("wakeup", "clear final target: %v", err)
		}
		logging.Warn("wakeup", "final alarm for %s lost (%s late)", target.Format(time.DateTime), (-remaining).Round(time.Minute))
		return false, nil
	}
}

func (s *Scheduler) armMain(target, now time.Time) (time.Time, error) {
	at := Clamp(target, now)
	s.alarm.Cancel(PurposeIntermediate)
	if err := s.arm(PurposeMain, at); err != nil {
		return time.Time{}, err
	}
	if err := s.store.SetTime(store.KeyNextAlarmAt, at); err != nil {
		logging.Warn("wakeup", "persist next alarm: %v", err)
	}
	return at, nil
}

// arm cancels then arms one purpose. Permission errors flip degraded mode
// and are swallowed; heartbeats keep the daemon alive.
func (s *Scheduler) arm(purpose string, at time.Time) error {
	s.alarm.Cancel(purpose)
	err := s.alarm.Arm(purpose, at)
	if err == nil {
		s.metrics.AlarmArmed(purpose)
		s.setDegraded(false, purpose, nil)
		return nil
	}

	s.metrics.AlarmFailed(purpose)
	s.setDegraded(true, purpose, err)
	if errors.Is(err, ErrPermission) {
		logging.Error("wakeup", err, "cannot arm %s alarm, running on heartbeats", purpose)
		return nil
	}
	return fmt.Errorf("arm %s alarm: %w", purpose, err)
}

func (s *Scheduler) setDegraded(on bool, purpose string, err error) {
	s.mu.Lock()
	changed := s.degraded != on
	s.degraded = on
	s.mu.Unlock()

	s.metrics.SetDegraded(on)
	if on && changed {
		s.bus.PublishWakeupDegraded(eventbus.WakeupDegradedPayload{Purpose: purpose, Err: err})
	}
	if !on && changed {
		logging.Info("wakeup", "exact alarms available again")
	}
}
