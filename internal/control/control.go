// Package control exposes the user-facing operations shared by the
// Discord commands, the MCP tools and the state CLI.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/chapelotas/internal/freetime"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/monkey"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
	"github.com/vthunder/chapelotas/internal/useraction"
	"github.com/vthunder/chapelotas/internal/wakeup"
)

// ErrAmbiguous is returned when a task reference matches several tasks.
var ErrAmbiguous = errors.New("ambiguous task reference")

// Dependencies holds the services operations need. Scheduler may be nil
// outside the daemon.
type Dependencies struct {
	Store     *store.Store
	Monkey    *monkey.Service
	Actions   *useraction.Handler
	Scheduler *wakeup.Scheduler
	Settings  func() types.Settings
	Now       func() time.Time
}

type Control struct {
	deps Dependencies
}

func New(deps Dependencies) *Control {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Settings == nil {
		deps.Settings = types.DefaultSettings
	}
	return &Control{deps: deps}
}

// Settings returns the current normalized settings
func (c *Control) Settings() types.Settings {
	return c.deps.Settings().Normalize()
}

// Tasks lists active tasks, earliest first.
func (c *Control) Tasks() ([]types.Task, error) {
	return c.deps.Store.ActiveTasks()
}

// FindTask resolves ref as an exact id, an id prefix, or a case-insensitive
// title fragment, in that order.
func (c *Control) FindTask(ref string) (types.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return types.Task{}, fmt.Errorf("empty task reference")
	}
	if t, err := c.deps.Store.GetTask(ref); err == nil {
		return t, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Task{}, err
	}

	tasks, err := c.deps.Store.ActiveTasks()
	if err != nil {
		return types.Task{}, err
	}
	lower := strings.ToLower(ref)
	for _, match := range []func(types.Task) bool{
		func(t types.Task) bool { return strings.HasPrefix(t.ID, ref) },
		func(t types.Task) bool { return strings.Contains(strings.ToLower(t.Title), lower) },
	} {
		var found []types.Task
		for _, t := range tasks {
			if match(t) {
				found = append(found, t)
			}
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			return found[0], nil
		default:
			return types.Task{}, fmt.Errorf("%q matches %d tasks: %w", ref, len(found), ErrAmbiguous)
		}
	}
	return types.Task{}, fmt.Errorf("task %q: %w", ref, store.ErrNotFound)
}

// Acknowledge marks the task as seen; reminders switch to the
// acknowledged cadence.
func (c *Control) Acknowledge(ctx context.Context, ref string) (types.Task, error) {
	t, err := c.FindTask(ref)
	if err != nil {
		return types.Task{}, err
	}
	if err := c.deps.Store.SetAcknowledged(t.ID, true, c.deps.Now()); err != nil {
		return types.Task{}, err
	}
	t.IsAcknowledged = true
	c.converse(t.ID, "Acknowledged")
	c.tick(ctx, "acknowledge")
	return t, nil
}

// Finish completes the task and drops its pending notifications.
func (c *Control) Finish(ctx context.Context, ref string) (types.Task, error) {
	t, err := c.FindTask(ref)
	if err != nil {
		return types.Task{}, err
	}
	now := c.deps.Now()
	if err := c.deps.Store.SetFinished(t.ID, true, now); err != nil {
		return types.Task{}, err
	}
	t.IsFinished = true
	c.converse(t.ID, "Done")
	if err := c.deps.Store.CompleteThread(types.ThreadID(t.ID), now); err != nil {
		logging.Warn("control", "complete thread for %s: %v", t.ID, err)
	}
	if _, err := c.deps.Monkey.Replan(ctx, t, "finish"); err != nil {
		return t, err
	}
	return t, nil
}

// Respond applies a notification response and re-arms.
func (c *Control) Respond(ctx context.Context, in useraction.Input) (useraction.Result, error) {
	res, err := c.deps.Actions.Handle(ctx, in, c.deps.Now(), c.Settings())
	if err != nil {
		return res, err
	}
	if res.Applied {
		c.tick(ctx, "user:"+strings.ToLower(string(in.Action)))
	}
	return res, nil
}

// Snooze is Respond for SNOOZE. notificationID may be empty to snooze the
// latest unresolved notification.
func (c *Control) Snooze(ctx context.Context, notificationID string, minutes int, deliveryID string) (useraction.Result, error) {
	if notificationID == "" {
		n, err := c.deps.Store.LatestOpenNotification()
		if err != nil {
			return useraction.Result{}, err
		}
		notificationID = n.ID
	}
	return c.Respond(ctx, useraction.Input{
		NotificationID: notificationID,
		Action:         types.ActionSnooze,
		SnoozeMinutes:  minutes,
		DeliveryID:     deliveryID,
	})
}

// NewTask describes a manually created task
type NewTask struct {
	Title    string
	At       time.Time
	End      *time.Time
	Todo     bool
	Critical bool
	Location types.LocationContext
}

// AddTask stores a manual task and plans its notifications.
func (c *Control) AddTask(ctx context.Context, nt NewTask) (types.Task, error) {
	if strings.TrimSpace(nt.Title) == "" {
		return types.Task{}, fmt.Errorf("title required")
	}
	now := c.deps.Now()
	s := c.Settings()
	t := types.Task{
		ID:                uuid.NewString(),
		Title:             nt.Title,
		Kind:              types.KindEvent,
		ScheduledTime:     nt.At,
		EndTime:           nt.End,
		IsCritical:        nt.Critical,
		LocationContext:   nt.Location,
		TravelTimeMinutes: s.TravelMinutes(nt.Location),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if nt.Todo {
		t.Kind = types.KindTodo
	}
	if err := c.deps.Store.UpsertTask(t); err != nil {
		return types.Task{}, err
	}
	if _, err := c.deps.Monkey.Replan(ctx, t, "add-task"); err != nil {
		return t, err
	}
	return t, nil
}

// PlanEvent re-plans one task's notification actions.
func (c *Control) PlanEvent(ctx context.Context, ref string) (int, error) {
	t, err := c.FindTask(ref)
	if err != nil {
		return 0, err
	}
	return c.deps.Monkey.Replan(ctx, t, "plan-event")
}

// FreeSlots returns the free chunks of day inside work hours.
func (c *Control) FreeSlots(day time.Time) ([]freetime.Slot, error) {
	s := c.Settings()
	start, end := s.WorkStart().On(day), s.WorkEnd().On(day)
	tasks, err := c.deps.Store.TasksBetween(types.StartOfDay(day).Add(-12*time.Hour), types.StartOfDay(day).AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	var active []types.Task
	for _, t := range tasks {
		if t.Active() {
			active = append(active, t)
		}
	}
	return freetime.FreeSlots(start, end, active), nil
}

// Schedule returns the day view for day.
func (c *Control) Schedule(day time.Time) (freetime.Day, error) {
	tasks, err := c.deps.Store.TasksBetween(types.StartOfDay(day).Add(-12*time.Hour), types.StartOfDay(day).AddDate(0, 0, 1))
	if err != nil {
		return freetime.Day{}, err
	}
	return freetime.Schedule(day, c.Settings(), tasks, c.deps.Now()), nil
}

// Status is the daemon's scheduling state
type Status struct {
	Now            time.Time           `json:"now"`
	NextAlarm      *time.Time          `json:"next_alarm,omitempty"`
	FinalTarget    *time.Time          `json:"final_target,omitempty"`
	LastPass       *time.Time          `json:"last_pass,omitempty"`
	NextAction     *types.AgendaAction `json:"-"`
	NextActionKind string              `json:"next_action_kind,omitempty"`
	NextActionAt   *time.Time          `json:"next_action_at,omitempty"`
	NextReminder   *time.Time          `json:"next_reminder,omitempty"`
	ActiveTasks    int                 `json:"active_tasks"`
	Degraded       bool                `json:"degraded"`
}

// Status reads the persisted scheduling state.
func (c *Control) Status() (Status, error) {
	st := Status{Now: c.deps.Now()}
	var err error
	if st.NextAlarm, err = c.deps.Store.GetTime(store.KeyNextAlarmAt); err != nil {
		return st, err
	}
	if st.FinalTarget, err = c.deps.Store.GetTime(store.KeyFinalAlarmTarget); err != nil {
		return st, err
	}
	if st.LastPass, err = c.deps.Store.GetTime(store.KeyLastPassAt); err != nil {
		return st, err
	}
	if st.NextReminder, err = c.deps.Store.NextReminderAt(); err != nil {
		return st, err
	}
	if st.NextAction, err = c.deps.Store.NextPendingAction(); err != nil {
		return st, err
	}
	if st.NextAction != nil {
		st.NextActionKind = st.NextAction.Kind.Name()
		at := st.NextAction.ScheduledTime
		st.NextActionAt = &at
	}
	tasks, err := c.deps.Store.ActiveTasks()
	if err != nil {
		return st, err
	}
	st.ActiveTasks = len(tasks)
	if c.deps.Scheduler != nil {
		st.Degraded = c.deps.Scheduler.Degraded()
	}
	return st, nil
}

// Tick runs a monitoring pass
func (c *Control) Tick(ctx context.Context, reason string) (monkey.Report, error) {
	return c.deps.Monkey.Tick(ctx, reason)
}

// Resync recomputes every next reminder
func (c *Control) Resync(ctx context.Context) (int, error) {
	return c.deps.Monkey.Resync(ctx)
}

func (c *Control) tick(ctx context.Context, reason string) {
	if _, err := c.deps.Monkey.Tick(ctx, reason); err != nil {
		logging.Warn("control", "pass after %s: %v", reason, err)
	}
}

func (c *Control) converse(taskID, text string) {
	err := c.deps.Store.AppendConversation(types.ConversationEntry{
		ThreadID: types.ThreadID(taskID),
		Role:     types.RoleUser,
		Content:  text,
		At:       c.deps.Now(),
	})
	if err != nil {
		logging.Warn("control", "log conversation: %v", err)
	}
}
