package agenda

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/types"
)

// CriticalOffsets are the minutes-before of critical event alerts.
var CriticalOffsets = []int{60, 30, 15, 5}

const (
	cleanupHour  = 3
	idleCheckGap = time.Hour
)

// PlanStore is what the planner needs. *store.Store implements it.
type PlanStore interface {
	InsertAction(a types.AgendaAction) error
	CancelPendingForEvent(eventID string, now time.Time) (int64, error)
	NextPendingAction() (*types.AgendaAction, error)
	PendingActionOfKind(kind types.ActionKind, from, to time.Time) (*types.AgendaAction, error)
}

// Planner writes future actions into the agenda.
type Planner struct {
	store PlanStore
	newID func() string
}

func NewPlanner(st PlanStore) *Planner {
	return &Planner{store: st, newID: uuid.NewString}
}

// PlanNotificationsForEvent replaces the pending NOTIFY_EVENT actions of
// task. Existing pending actions are cancelled first, so at most one plan
// per task is ever pending. Finished or cancelled tasks end up with none.
// Only instants after now are scheduled.
func (p *Planner) PlanNotificationsForEvent(task types.Task, now time.Time, s types.Settings) (int, error) {
	cancelled, err := p.store.CancelPendingForEvent(task.ID, now)
	if err != nil {
		return 0, fmt.Errorf("cancel pending for %s: %w", task.ID, err)
	}
	if !task.Active() {
		return 0, nil
	}

	offsets := s.ReminderOffsets()
	if task.IsCritical {
		offsets = CriticalOffsets
	}

	planned := 0
	for _, m := range offsets {
		at := task.ScheduledTime.Add(-time.Duration(m) * time.Minute)
		if !at.After(now) {
			continue
		}
		a := types.AgendaAction{
			ID:            p.newID(),
			ScheduledTime: at,
			Kind:          types.NotifyEvent{},
			EventID:       task.ID,
			Status:        types.ActionPending,
			CreatedAt:     now,
		}
		if task.IsCritical {
			a.Message = criticalMessage(task.Title, m)
		}
		if err := p.store.InsertAction(a); err != nil {
			return planned, err
		}
		planned++
	}
	logging.Debug("agenda", "planned %d notifications for %q (replaced %d)", planned, task.Title, cancelled)
	return planned, nil
}

// SeedDaily makes sure the next daily summary and cleanup are queued.
// Seeding twice for the same day reuses the pending action.
func (p *Planner) SeedDaily(now time.Time, s types.Settings) error {
	if err := p.seed(types.DailySummary{}, s.SummaryAt(), now); err != nil {
		return err
	}
	return p.seed(types.Cleanup{}, types.Clock{Hour: cleanupHour}, now)
}

func (p *Planner) seed(kind types.ActionKind, c types.Clock, now time.Time) error {
	at := c.On(now)
	if !at.After(now) {
		at = c.On(now.AddDate(0, 0, 1))
	}
	day := types.StartOfDay(at)
	existing, err := p.store.PendingActionOfKind(kind, day, day.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	logging.Debug("agenda", "seeding %s at %s", kind.Name(), at.Format(time.DateTime))
	return p.store.InsertAction(types.AgendaAction{
		ID:            p.newID(),
		ScheduledTime: at,
		Kind:          kind,
		Status:        types.ActionPending,
		CreatedAt:     now,
	})
}

// EnsureIdleCheck queues an IDLE_CHECK an hour out when nothing else is
// pending, so the agenda never runs dry.
func (p *Planner) EnsureIdleCheck(now time.Time) (bool, error) {
	next, err := p.store.NextPendingAction()
	if err != nil {
		return false, err
	}
	if next != nil {
		return false, nil
	}
	err = p.store.InsertAction(types.AgendaAction{
		ID:            p.newID(),
		ScheduledTime: now.Add(idleCheckGap),
		Kind:          types.IdleCheck{},
		Status:        types.ActionPending,
		CreatedAt:     now,
	})
	return err == nil, err
}

func criticalMessage(title string, minutesBefore int) string {
	switch minutesBefore {
	case 60:
		return fmt.Sprintf("⏰ CRITICAL ALERT\n\n%s\nin 1 HOUR", title)
	case 30:
		return fmt.Sprintf("🚨 URGENT\n\n%s\nin 30 MINUTES", title)
	case 15:
		return fmt.Sprintf("⚠️ VERY IMPORTANT\n\n%s\nin 15 MINUTES", title)
	case 5:
		return fmt.Sprintf("🔴 URGENT NOW\n\n%s\nin 5 MINUTES", title)
	}
	return fmt.Sprintf("🚨 CRITICAL EVENT\n\n%s", title)
}
