package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/metrics"
	"github.com/vthunder/chapelotas/internal/types"
)

// Store is the persistence the engine needs. *store.Store implements it.
type Store interface {
	ActiveTasks() ([]types.Task, error)
	TasksDueForReminder(now time.Time) ([]types.Task, error)
	SetNextReminder(id string, next *time.Time, reminderCount int) error
	InsertNotification(n types.Notification) error
	AppendConversation(e types.ConversationEntry) error
}

// Engine fires due reminders and keeps every task's next reminder current.
type Engine struct {
	store      Store
	phrases    Phrases
	dispatcher types.Dispatcher
	bus        *eventbus.EventBus
	metrics    *metrics.Metrics
	newID      func() string
}

// New creates a reminder engine
func New(store Store, phrases Phrases, dispatcher types.Dispatcher) *Engine {
	return &Engine{
		store:      store,
		phrases:    phrases,
		dispatcher: dispatcher,
		newID:      uuid.NewString,
	}
}

// WithEvents publishes ReminderDispatched events on bus.
func (e *Engine) WithEvents(bus *eventbus.EventBus) *Engine {
	e.bus = bus
	return e
}

func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// ProcessDue runs one reminder pass and returns how many reminders were
// sent. Tasks whose next reminder is unset are only rescheduled.
func (e *Engine) ProcessDue(ctx context.Context, now time.Time, s types.Settings) (int, error) {
	tasks, err := e.store.TasksDueForReminder(now)
	if err != nil {
		return 0, fmt.Errorf("load due tasks: %w", err)
	}

	sent := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if task.NextReminderAt == nil {
			if err := e.reschedule(task, now, s); err != nil {
				logging.Warn("reminder", "reschedule %s: %v", task.ID, err)
			}
			continue
		}
		fired, err := e.step(ctx, task, now, s)
		if err != nil {
			logging.Warn("reminder", "task %s: %v", task.ID, err)
			continue
		}
		if fired {
			sent++
		}
	}
	if sent > 0 {
		logging.Info("reminder", "sent %d reminders", sent)
	}
	return sent, nil
}

// Resync recomputes the next reminder of every active task from scratch,
// through the same function the incremental pass uses.
func (e *Engine) Resync(now time.Time, s types.Settings) (int, error) {
	tasks, err := e.store.ActiveTasks()
	if err != nil {
		return 0, fmt.Errorf("load active tasks: %w", err)
	}
	for _, task := range tasks {
		if err := e.reschedule(task, now, s); err != nil {
			return 0, fmt.Errorf("resync %s: %w", task.ID, err)
		}
	}
	logging.Debug("reminder", "resynced %d tasks", len(tasks))
	return len(tasks), nil
}

func (e *Engine) reschedule(task types.Task, now time.Time, s types.Settings) error {
	return e.store.SetNextReminder(task.ID, NextReminderAt(task, now, s), task.ReminderCount)
}

// step fires one due task. The next reminder always advances, even when
// the dispatch fails, so a broken dispatcher cannot cause a retry storm.
func (e *Engine) step(ctx context.Context, task types.Task, now time.Time, s types.Settings) (bool, error) {
	plan := Decide(e.phrases, task, now, s)
	if !plan.Send {
		logging.Debug("reminder", "suppressed %q (%s)", task.Title, plan.State)
		return false, e.store.SetNextReminder(task.ID, plan.Next, task.ReminderCount)
	}

	n := types.Notification{
		ID:            e.newID(),
		EventID:       task.ID,
		Title:         task.Title,
		Message:       plan.Message,
		Priority:      plan.Priority,
		Channel:       plan.Channel,
		ScheduledTime: now,
		CreatedAt:     now,
	}
	if err := e.store.InsertNotification(n); err != nil {
		logging.Warn("reminder", "record notification for %s: %v", task.ID, err)
	}
	if err := e.store.AppendConversation(types.ConversationEntry{
		ThreadID: types.ThreadID(task.ID),
		Role:     types.RoleAssistant,
		Content:  plan.Message,
		At:       now,
	}); err != nil {
		logging.Warn("reminder", "log message for %s: %v", task.ID, err)
	}
	if err := e.dispatcher.Dispatch(ctx, n); err != nil {
		logging.Error("reminder", err, "dispatch %q", task.Title)
	}

	if err := e.store.SetNextReminder(task.ID, plan.Next, task.ReminderCount+1); err != nil {
		return true, err
	}
	e.metrics.ReminderDispatched()

	payload := eventbus.ReminderDispatchedPayload{
		TaskID:         task.ID,
		NotificationID: n.ID,
		Message:        plan.Message,
	}
	if plan.Next != nil {
		payload.NextReminderAt = *plan.Next
	}
	e.bus.PublishReminderDispatched(payload)
	logging.Info("reminder", "%s %q: %s", plan.State, task.Title, logging.Truncate(plan.Message, 80))
	return true, nil
}
