// Package monkey runs the monitoring pass: every wake-up, whatever its
// source, ends up in Service.Tick.
package monkey

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vthunder/chapelotas/internal/agenda"
	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/metrics"
	"github.com/vthunder/chapelotas/internal/reminder"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
	"github.com/vthunder/chapelotas/internal/wakeup"
)

// Store is the slice of persistence the pass touches directly.
type Store interface {
	SnoozedDue(now time.Time) ([]types.Notification, error)
	UpdateNotification(n types.Notification) error
	GetTask(id string) (types.Task, error)
	SetTime(key string, t time.Time) error
}

// Config wires a Service. Now and Settings default to the wall clock and
// DefaultSettings.
type Config struct {
	Store      Store
	Reminders  *reminder.Engine
	Agenda     *agenda.Processor
	Planner    *agenda.Planner
	Wakeup     *wakeup.Scheduler
	Dispatcher types.Dispatcher

	Settings func() types.Settings
	Now      func() time.Time

	Events  *eventbus.EventBus
	Metrics *metrics.Metrics
}

// Report summarizes one pass.
type Report struct {
	At        time.Time
	Reason    string
	Snoozed   int
	Reminders int
	Agenda    agenda.Result
	NextAlarm *time.Time
}

// Service serializes every mutation of the plan: passes, replans and
// resyncs never overlap.
type Service struct {
	cfg   Config
	group singleflight.Group
	mu    sync.Mutex
}

func New(cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Settings == nil {
		cfg.Settings = types.DefaultSettings
	}
	return &Service{cfg: cfg}
}

// Tick runs one monitoring pass. Callers arriving while a pass is in
// flight share its report instead of starting a second one. Failures are
// logged; the returned error is only for callers that want to show it.
func (s *Service) Tick(ctx context.Context, reason string) (Report, error) {
	v, err, shared := s.group.Do("pass", func() (any, error) {
		return s.pass(ctx, reason)
	})
	if shared {
		logging.Debug("monkey", "%s coalesced into running pass", reason)
	}
	report, _ := v.(Report)
	return report, err
}

func (s *Service) pass(ctx context.Context, reason string) (report Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.cfg.Now()
	settings := s.cfg.Settings().Normalize()
	report = Report{At: now, Reason: reason}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitoring pass panicked: %v", r)
			logging.Error("monkey", err, "pass %s aborted", reason)
		}
		s.cfg.Metrics.ObservePass(time.Since(start))
	}()

	var errs []error
	note := func(step string, e error) {
		if e != nil {
			logging.Error("monkey", e, "%s", step)
			errs = append(errs, fmt.Errorf("%s: %w", step, e))
		}
	}

	var e error
	report.Snoozed, e = s.redispatchSnoozed(ctx, now)
	note("snoozed", e)

	report.Reminders, e = s.cfg.Reminders.ProcessDue(ctx, now, settings)
	note("reminders", e)

	report.Agenda, e = s.cfg.Agenda.ProcessDue(ctx, now, settings)
	note("agenda", e)

	note("seed daily", s.cfg.Planner.SeedDaily(now, settings))
	if _, e := s.cfg.Planner.EnsureIdleCheck(now); e != nil {
		note("idle check", e)
	}

	armed, e := s.cfg.Wakeup.Rearm(now)
	note("rearm", e)
	if e == nil {
		report.NextAlarm = &armed
	}

	if e := s.cfg.Store.SetTime(store.KeyLastPassAt, now); e != nil {
		logging.Warn("monkey", "persist last pass: %v", e)
	}

	s.cfg.Events.PublishCheckCompleted(eventbus.CheckCompletedPayload{
		At:        now,
		Reason:    reason,
		Reminders: report.Reminders,
		Actions:   report.Agenda.Processed,
		NextAlarm: report.NextAlarm,
	})
	logging.Debug("monkey", "pass %s: %d snoozed, %d reminders, %d/%d actions",
		reason, report.Snoozed, report.Reminders, report.Agenda.Processed, report.Agenda.Due)

	if len(errs) > 0 {
		return report, fmt.Errorf("pass %s: %d step(s) failed: %w", reason, len(errs), errs[0])
	}
	return report, nil
}

// redispatchSnoozed shows expired snoozes again. Notifications whose task
// is gone or finished are closed instead.
func (s *Service) redispatchSnoozed(ctx context.Context, now time.Time) (int, error) {
	due, err := s.cfg.Store.SnoozedDue(now)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, n := range due {
		n.SnoozedUntil = nil

		if n.EventID != "" {
			task, err := s.cfg.Store.GetTask(n.EventID)
			if err != nil || !task.Active() {
				n.Executed = true
				if err := s.cfg.Store.UpdateNotification(n); err != nil {
					logging.Warn("monkey", "close snoozed %s: %v", n.ID, err)
				}
				continue
			}
		}

		n.ScheduledTime = now
		if err := s.cfg.Store.UpdateNotification(n); err != nil {
			logging.Warn("monkey", "update snoozed %s: %v", n.ID, err)
			continue
		}
		if err := s.cfg.Dispatcher.Dispatch(ctx, n); err != nil {
			logging.Error("monkey", err, "redispatch %q", n.Title)
			continue
		}
		sent++
	}
	return sent, nil
}

// OnAlarm routes a wake-up by purpose. Intermediate hops only run a pass
// when the final target is already due.
func (s *Service) OnAlarm(ctx context.Context, purpose string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("monkey", fmt.Errorf("%v", r), "alarm %s", purpose)
		}
	}()

	if purpose == wakeup.PurposeIntermediate {
		fire, err := s.cfg.Wakeup.OnIntermediate(s.cfg.Now())
		if err != nil {
			logging.Error("monkey", err, "intermediate alarm")
		}
		if !fire {
			return
		}
	}
	s.Tick(ctx, "alarm:"+purpose)
}

// Replan cancels and re-plans the notifications of one task, then runs a
// pass so the alarm follows the new plan.
func (s *Service) Replan(ctx context.Context, task types.Task, reason string) (int, error) {
	n, err := s.PlanNotificationsForEvent(task, s.cfg.Now(), s.cfg.Settings().Normalize())
	if err != nil {
		return 0, fmt.Errorf("plan %s: %w", task.ID, err)
	}
	s.Tick(ctx, reason)
	return n, nil
}

// PlanNotificationsForEvent plans one task's agenda actions once no pass
// is running. Senses plan through it rather than the bare planner.
func (s *Service) PlanNotificationsForEvent(task types.Task, now time.Time, st types.Settings) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Planner.PlanNotificationsForEvent(task, now, st)
}

// Resync recomputes every task's next reminder and re-arms.
func (s *Service) Resync(ctx context.Context) (int, error) {
	s.mu.Lock()
	n, err := s.cfg.Reminders.Resync(s.cfg.Now(), s.cfg.Settings().Normalize())
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	_, err = s.Tick(ctx, "resync")
	return n, err
}
