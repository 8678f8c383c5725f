package senses

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vthunder/chapelotas/internal/integrations/calendar"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
)

// DefaultCalendarPollInterval is how often the calendar is re-read
const DefaultCalendarPollInterval = 5 * time.Minute

// SyncDays is how many days, today included, a sync covers.
const SyncDays = 7

// EventSource lists calendar events. *calendar.Client implements it.
type EventSource interface {
	ListEvents(ctx context.Context, from, to time.Time, loc *time.Location) ([]calendar.Event, error)
}

// CalendarStore is what a sync writes. *store.Store implements it.
type CalendarStore interface {
	GetTask(id string) (types.Task, error)
	UpsertTask(t types.Task) error
	CancelTask(id string, now time.Time) error
	TasksBetween(from, to time.Time) ([]types.Task, error)
	InsertNotification(n types.Notification) error
	AppendConversation(e types.ConversationEntry) error
}

// EventPlanner replans the notification actions of one task.
// *monkey.Service implements it, serialized with the monitoring pass.
type EventPlanner interface {
	PlanNotificationsForEvent(task types.Task, now time.Time, s types.Settings) (int, error)
}

// SyncResult counts what one sync changed
type SyncResult struct {
	Seen      int
	Created   int
	Updated   int
	Cancelled int
}

// Changed reports whether the sync touched any task
func (r SyncResult) Changed() bool {
	return r.Created+r.Updated+r.Cancelled > 0
}

// CalendarSense mirrors calendar events into tasks.
type CalendarSense struct {
	source     EventSource
	store      CalendarStore
	planner    EventPlanner
	dispatcher types.Dispatcher
	settings   func() types.Settings
	newID      func() string

	pollInterval time.Duration
	location     *time.Location

	// Control
	mu       sync.Mutex
	stopChan chan struct{}
	stopped  bool

	onChange func(ctx context.Context)
}

// CalendarConfig holds configuration for the calendar sense
type CalendarConfig struct {
	Source       EventSource
	Store        CalendarStore
	Planner      EventPlanner
	Dispatcher   types.Dispatcher
	Settings     func() types.Settings
	NewID        func() string
	PollInterval time.Duration
	Location     *time.Location // all-day events are placed here
}

// NewCalendarSense creates a new calendar sense
func NewCalendarSense(cfg CalendarConfig) *CalendarSense {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultCalendarPollInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Settings == nil {
		cfg.Settings = types.DefaultSettings
	}
	return &CalendarSense{
		source:       cfg.Source,
		store:        cfg.Store,
		planner:      cfg.Planner,
		dispatcher:   cfg.Dispatcher,
		settings:     cfg.Settings,
		newID:        cfg.NewID,
		pollInterval: cfg.PollInterval,
		location:     cfg.Location,
		stopChan:     make(chan struct{}),
	}
}

// OnChange sets the callback run after a sync that changed tasks.
func (c *CalendarSense) OnChange(fn func(ctx context.Context)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Start begins polling the calendar
func (c *CalendarSense) Start() error {
	logging.Info("calendar-sense", "starting with poll interval %v", c.pollInterval)
	go c.pollLoop()
	return nil
}

// Stop stops the calendar polling
func (c *CalendarSense) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true
	close(c.stopChan)
	logging.Info("calendar-sense", "stopped")
	return nil
}

func (c *CalendarSense) pollLoop() {
	c.poll()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

func (c *CalendarSense) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := c.Sync(ctx, time.Now())
	if err != nil {
		if errors.Is(err, calendar.ErrPermission) {
			logging.Error("calendar-sense", err, "calendar access revoked, tasks will not update")
		} else {
			logging.Warn("calendar-sense", "sync failed: %v", err)
		}
		return
	}

	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if res.Changed() && fn != nil {
		fn(ctx)
	}
}

// TaskID is the stable task id of one occurrence of a calendar event.
func TaskID(e calendar.Event) string {
	return fmt.Sprintf("cal_%s_%d", e.ID, e.Start.UnixMilli())
}

// Sync reads today and the next days from the calendar and upserts the
// matching tasks. Tasks whose event vanished or was cancelled are
// soft-cancelled; user state (acknowledged, finished, counters) survives
// updates.
func (c *CalendarSense) Sync(ctx context.Context, now time.Time) (SyncResult, error) {
	s := c.settings().Normalize()
	from := types.StartOfDay(now.In(c.location))
	to := from.AddDate(0, 0, SyncDays)

	events, err := c.source.ListEvents(ctx, from, to, c.location)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list events: %w", err)
	}

	var res SyncResult
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		if e.Cancelled() {
			continue
		}
		id := TaskID(e)
		seen[id] = true
		res.Seen++

		created, updated, err := c.upsert(ctx, id, e, now, s)
		if err != nil {
			logging.Warn("calendar-sense", "sync %q: %v", e.Summary, err)
			continue
		}
		if created {
			res.Created++
		}
		if updated {
			res.Updated++
		}
	}

	existing, err := c.store.TasksBetween(from, to)
	if err != nil {
		return res, fmt.Errorf("load synced tasks: %w", err)
	}
	for _, t := range existing {
		if !t.IsFromCalendar || seen[t.ID] || !t.Active() {
			continue
		}
		if err := c.store.CancelTask(t.ID, now); err != nil {
			logging.Warn("calendar-sense", "cancel %s: %v", t.ID, err)
			continue
		}
		t.IsCancelled = true
		if _, err := c.planner.PlanNotificationsForEvent(t, now, s); err != nil {
			logging.Warn("calendar-sense", "drop plan for %s: %v", t.ID, err)
		}
		logging.Info("calendar-sense", "%q left the calendar", t.Title)
		res.Cancelled++
	}

	if res.Changed() {
		logging.Info("calendar-sense", "synced %d events: %d new, %d updated, %d cancelled",
			res.Seen, res.Created, res.Updated, res.Cancelled)
	}
	return res, nil
}

func (c *CalendarSense) upsert(ctx context.Context, id string, e calendar.Event, now time.Time, s types.Settings) (created, updated bool, err error) {
	incoming := taskFromEvent(id, e, now, s)

	current, err := c.store.GetTask(id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := c.store.UpsertTask(incoming); err != nil {
			return false, false, err
		}
		c.announce(ctx, incoming, now)
		if _, err := c.planner.PlanNotificationsForEvent(incoming, now, s); err != nil {
			return true, false, fmt.Errorf("plan: %w", err)
		}
		return true, false, nil
	case err != nil:
		return false, false, err
	}

	if sameCalendarFields(current, incoming) && !current.IsCancelled {
		return false, false, nil
	}

	merged := incoming
	merged.IsAcknowledged = current.IsAcknowledged
	merged.IsStarted = current.IsStarted
	merged.IsFinished = current.IsFinished
	merged.ReminderCount = current.ReminderCount
	merged.NotificationCount = current.NotificationCount
	merged.CreatedAt = current.CreatedAt
	merged.NextReminderAt = nil // recomputed by the next pass
	if err := c.store.UpsertTask(merged); err != nil {
		return false, false, err
	}
	if _, err := c.planner.PlanNotificationsForEvent(merged, now, s); err != nil {
		return false, true, fmt.Errorf("replan: %w", err)
	}
	return false, true, nil
}

// announce logs a new task to its thread and, for tasks today, tells the
// user right away.
func (c *CalendarSense) announce(ctx context.Context, t types.Task, now time.Time) {
	if err := c.store.AppendConversation(types.ConversationEntry{
		ThreadID: types.ThreadID(t.ID),
		Role:     types.RoleAssistant,
		Content:  fmt.Sprintf("Scheduled! I've added '%s' to your list.", t.Title),
		At:       now,
	}); err != nil {
		logging.Warn("calendar-sense", "log new task: %v", err)
	}

	if !types.SameDay(t.ScheduledTime, now) || c.dispatcher == nil || c.newID == nil {
		return
	}
	n := types.Notification{
		ID:            c.newID(),
		EventID:       t.ID,
		Title:         t.Title,
		Message:       fmt.Sprintf("New task today: '%s' at %s", t.Title, t.ScheduledTime.In(now.Location()).Format("15:04")),
		Channel:       types.ChannelGeneral,
		Priority:      types.PriorityNormal,
		ScheduledTime: now,
		CreatedAt:     now,
	}
	if err := c.store.InsertNotification(n); err != nil {
		logging.Warn("calendar-sense", "record announcement: %v", err)
	}
	if err := c.dispatcher.Dispatch(ctx, n); err != nil {
		logging.Warn("calendar-sense", "announce %q: %v", t.Title, err)
	}
}

func taskFromEvent(id string, e calendar.Event, now time.Time, s types.Settings) types.Task {
	lc := types.LocationOffice
	if e.Location != "" {
		lc = types.LocationNearby
	}
	t := types.Task{
		ID:                id,
		CalendarEventID:   e.ID,
		Title:             e.Summary,
		Description:       e.Description,
		Location:          e.Location,
		Kind:              types.KindEvent,
		ScheduledTime:     e.Start,
		LocationContext:   lc,
		TravelTimeMinutes: s.TravelMinutes(lc),
		IsCritical:        e.Critical,
		IsAllDay:          e.AllDay,
		IsRecurring:       e.Recurring,
		IsFromCalendar:    true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if t.Title == "" {
		t.Title = "(untitled)"
	}
	if !e.End.IsZero() && e.End.After(e.Start) {
		end := e.End
		t.EndTime = &end
	}
	return t
}

func sameCalendarFields(a, b types.Task) bool {
	endsEqual := (a.EndTime == nil) == (b.EndTime == nil)
	if endsEqual && a.EndTime != nil {
		endsEqual = a.EndTime.Equal(*b.EndTime)
	}
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.Location == b.Location &&
		a.IsCritical == b.IsCritical &&
		a.IsAllDay == b.IsAllDay &&
		a.TravelTimeMinutes == b.TravelTimeMinutes &&
		endsEqual
}
