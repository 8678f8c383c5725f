// Package agenda runs the persisted queue of one-shot background actions:
// event notifications, the daily summary, idle nudges and cleanup.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/metrics"
	"github.com/vthunder/chapelotas/internal/persona"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
)

const (
	StaleAfter    = 2 * time.Hour
	MaxPerPass    = 3
	MaxAfterStale = 2
	Retention     = 7 * 24 * time.Hour

	// a PROCESSING claim older than this is taken back by the next pass
	ClaimLease = 10 * time.Minute

	IdleThreshold   = 45 // minutes
	defaultIdleMins = 60
)

// Outcomes recorded per processed action
const (
	OutcomeDispatched = "dispatched"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
	OutcomeStale      = "stale"
)

// Store is what the processor reads and writes. *store.Store implements it.
type Store interface {
	PendingActionsDue(now time.Time) ([]types.AgendaAction, error)
	ClaimAction(id string, at time.Time) (bool, error)
	ReleaseClaimsBefore(t time.Time) (int64, error)
	SetActionStatus(id string, status types.ActionStatus, at time.Time) error
	DeleteCompletedBefore(t time.Time) (int64, error)

	GetTask(id string) (types.Task, error)
	TasksBetween(from, to time.Time) ([]types.Task, error)
	LastTaskUpdate() (*time.Time, error)

	InsertNotification(n types.Notification) error
	AppendConversation(e types.ConversationEntry) error
	LastUserMessageAt() (*time.Time, error)
	ArchiveThreadsBefore(t time.Time) (int64, error)
}

// Generator writes short texts. *llm.Client implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Phrases renders personality text. *persona.Provider implements it.
type Phrases interface {
	Get(personality, contextKey string, placeholders map[string]string) string
}

// Result summarizes one pass
type Result struct {
	Due        int
	Processed  int
	Stale      int
	Summarized bool
}

// Processor consumes due agenda actions.
type Processor struct {
	store      Store
	gen        Generator
	phrases    Phrases
	dispatcher types.Dispatcher
	bus        *eventbus.EventBus
	metrics    *metrics.Metrics
	newID      func() string
}

// NewProcessor creates a processor. gen and phrases may be nil; local
// fallback texts are used then.
func NewProcessor(st Store, gen Generator, phrases Phrases, dispatcher types.Dispatcher) *Processor {
	return &Processor{
		store:      st,
		gen:        gen,
		phrases:    phrases,
		dispatcher: dispatcher,
		newID:      uuid.NewString,
	}
}

func (p *Processor) WithEvents(bus *eventbus.EventBus) *Processor {
	p.bus = bus
	return p
}

func (p *Processor) WithMetrics(m *metrics.Metrics) *Processor {
	p.metrics = m
	return p
}

// ProcessDue runs one pass over the due actions, oldest first. A backlog
// older than StaleAfter collapses into a single summary; the per-pass cap
// leaves the rest PENDING for the next pass.
func (p *Processor) ProcessDue(ctx context.Context, now time.Time, s types.Settings) (Result, error) {
	if n, err := p.store.ReleaseClaimsBefore(now.Add(-ClaimLease)); err != nil {
		logging.Warn("agenda", "release old claims: %v", err)
	} else if n > 0 {
		logging.Warn("agenda", "took back %d actions from an interrupted pass", n)
	}

	due, err := p.store.PendingActionsDue(now)
	if err != nil {
		return Result{}, fmt.Errorf("load due actions: %w", err)
	}
	res := Result{Due: len(due)}
	if len(due) == 0 {
		return res, nil
	}

	var stale, recent []types.AgendaAction
	cutoff := now.Add(-StaleAfter)
	for _, a := range due {
		if a.ScheduledTime.Before(cutoff) {
			stale = append(stale, a)
		} else {
			recent = append(recent, a)
		}
	}

	limit := MaxPerPass
	if len(stale) > 0 {
		res.Stale = len(stale)
		res.Summarized = p.summarizeStale(ctx, stale, now, s)
		for _, a := range stale {
			p.complete(a, now, OutcomeStale, true)
		}
		p.metrics.StaleBatch()
		limit = MaxAfterStale
	}

	for _, a := range recent {
		if res.Processed >= limit || ctx.Err() != nil {
			break
		}
		if p.process(ctx, a, now, s) {
			res.Processed++
		}
	}
	logging.Debug("agenda", "pass: %d due, %d stale, %d processed", res.Due, res.Stale, res.Processed)
	return res, nil
}

// process moves one action PENDING -> PROCESSING -> COMPLETED. It is
// completed after the dispatch attempt, whatever the outcome. It reports
// false when the action was no longer PENDING.
func (p *Processor) process(ctx context.Context, a types.AgendaAction, now time.Time, s types.Settings) bool {
	claimed, err := p.store.ClaimAction(a.ID, now)
	if err != nil {
		logging.Warn("agenda", "claim %s: %v", a.ID, err)
		return false
	}
	if !claimed {
		logging.Debug("agenda", "%s %s no longer pending", a.Kind.Name(), a.ID)
		return false
	}

	outcome, err := p.handle(ctx, a, now, s)
	if err != nil {
		logging.Error("agenda", err, "%s %s", a.Kind.Name(), a.ID)
		outcome = OutcomeFailed
	}
	p.complete(a, now, outcome, outcome != OutcomeDispatched)
	return true
}

func (p *Processor) complete(a types.AgendaAction, now time.Time, outcome string, skipped bool) {
	if err := p.store.SetActionStatus(a.ID, types.ActionCompleted, now); err != nil {
		logging.Warn("agenda", "complete %s: %v", a.ID, err)
		return
	}
	a.Status = types.ActionCompleted
	a.ProcessedAt = &now
	p.metrics.ActionCompleted(a.Kind.Name(), outcome)
	p.bus.PublishActionCompleted(eventbus.ActionCompletedPayload{Action: a, Skipped: skipped})
}

func (p *Processor) handle(ctx context.Context, a types.AgendaAction, now time.Time, s types.Settings) (string, error) {
	switch a.Kind.(type) {
	case types.NotifyEvent:
		return p.notifyEvent(ctx, a, now, s)
	case types.DailySummary:
		return p.dailySummary(ctx, now, s)
	case types.IdleCheck:
		return p.idleCheck(ctx, now, s)
	case types.Cleanup:
		return p.cleanup(now)
	}
	return "", fmt.Errorf("%w: %T", types.ErrUnknownAction, a.Kind)
}

func (p *Processor) notifyEvent(ctx context.Context, a types.AgendaAction, now time.Time, s types.Settings) (string, error) {
	task, err := p.store.GetTask(a.EventID)
	if errors.Is(err, store.ErrNotFound) {
		logging.Debug("agenda", "notify %s: task gone", a.EventID)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	if !task.Active() {
		return OutcomeSkipped, nil
	}
	if !s.WorkHours24h && !s.WithinWorkHours(now) {
		logging.Debug("agenda", "notify %q skipped outside work hours", task.Title)
		return OutcomeSkipped, nil
	}

	fallback := a.Message
	if fallback == "" {
		fallback = eventFallback(task, now)
	}
	msg := p.generate(ctx, eventPrompt(task, now, s), fallback)

	n := types.Notification{
		ID:            p.newID(),
		EventID:       task.ID,
		Title:         task.Title,
		Message:       msg,
		Priority:      types.PriorityNormal,
		Channel:       types.ChannelGeneral,
		ScheduledTime: a.ScheduledTime,
		CreatedAt:     now,
	}
	if task.IsCritical {
		n.Priority = types.PriorityHigh
		n.Channel = types.ChannelCritical
	}
	p.send(ctx, n, types.ThreadID(task.ID), now)
	return OutcomeDispatched, nil
}

// summarizeStale sends one message for a backlog of missed actions.
func (p *Processor) summarizeStale(ctx context.Context, stale []types.AgendaAction, now time.Time, s types.Settings) bool {
	seen := map[string]bool{}
	var lines []string
	for _, a := range stale {
		if a.EventID == "" || seen[a.EventID] {
			continue
		}
		seen[a.EventID] = true
		task, err := p.store.GetTask(a.EventID)
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("• %s (%s)", task.Title, hhmm(task.ScheduledTime, now)))
	}
	if len(lines) == 0 {
		logging.Info("agenda", "dropped %d stale actions with no tasks to report", len(stale))
		return false
	}

	list := strings.Join(lines, "\n")
	fallback := fmt.Sprintf("While I was away you missed %d reminders:\n%s", len(lines), list)
	msg := p.generate(ctx, staleSummaryPrompt(len(lines), list, s), fallback)

	p.send(ctx, types.Notification{
		ID:            p.newID(),
		Title:         "Missed reminders",
		Message:       msg,
		Priority:      types.PriorityNormal,
		Channel:       types.ChannelSummary,
		ScheduledTime: now,
		CreatedAt:     now,
	}, types.ThreadID(""), now)
	logging.Info("agenda", "collapsed %d stale actions into one summary", len(stale))
	return true
}

func (p *Processor) dailySummary(ctx context.Context, now time.Time, s types.Settings) (string, error) {
	day := types.StartOfDay(now)
	tasks, err := p.store.TasksBetween(day, day.AddDate(0, 0, 1))
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return OutcomeSkipped, nil
	}

	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		line := fmt.Sprintf("• %s - %s", hhmm(t.ScheduledTime, now), t.Title)
		if t.IsCritical {
			line += " 🚨"
		}
		lines = append(lines, line)
	}
	list := strings.Join(lines, "\n")

	greeting := fmt.Sprintf("Good morning %s.", s.UserName)
	if p.phrases != nil {
		greeting = p.phrases.Get(persona.For(s), persona.AlarmGreeting, map[string]string{"{USER_NAME}": s.UserName})
	}
	fallback := fmt.Sprintf("%s\nToday (%d):\n%s", greeting, len(tasks), list)
	msg := p.generate(ctx, dailySummaryPrompt(len(tasks), list, s), fallback)

	p.send(ctx, types.Notification{
		ID:            p.newID(),
		Title:         "Today",
		Message:       msg,
		Priority:      types.PriorityNormal,
		Channel:       types.ChannelSummary,
		ScheduledTime: now,
		CreatedAt:     now,
	}, types.ThreadID(""), now)
	return OutcomeDispatched, nil
}

func (p *Processor) idleCheck(ctx context.Context, now time.Time, s types.Settings) (string, error) {
	if !s.SarcasticMode {
		return OutcomeSkipped, nil
	}
	if !s.WorkHours24h && !s.WithinWorkHours(now) {
		return OutcomeSkipped, nil
	}

	idle, err := p.idleMinutes(now)
	if err != nil {
		return "", err
	}
	if idle < IdleThreshold {
		return OutcomeSkipped, nil
	}

	next := "Nothing else is on today."
	day := types.StartOfDay(now)
	if tasks, err := p.store.TasksBetween(now, day.AddDate(0, 0, 1)); err == nil {
		for _, t := range tasks {
			if t.Active() {
				next = fmt.Sprintf("Next up is '%s' at %s.", t.Title, hhmm(t.ScheduledTime, now))
				break
			}
		}
	}

	fallback := fmt.Sprintf("%s of doing nothing, %s? Impressive. %s", idleString(idle), s.UserName, next)
	msg := p.generate(ctx, idlePrompt(idle, next), fallback)
	p.send(ctx, types.Notification{
		ID:            p.newID(),
		Title:         "Still there?",
		Message:       msg,
		Priority:      types.PriorityNormal,
		Channel:       types.ChannelGeneral,
		ScheduledTime: now,
		CreatedAt:     now,
	}, types.ThreadID(""), now)
	return OutcomeDispatched, nil
}

// idleMinutes is the time since the latest user message or task edit.
func (p *Processor) idleMinutes(now time.Time) (int, error) {
	msgAt, err := p.store.LastUserMessageAt()
	if err != nil {
		return 0, err
	}
	taskAt, err := p.store.LastTaskUpdate()
	if err != nil {
		return 0, err
	}
	var last *time.Time
	for _, t := range []*time.Time{msgAt, taskAt} {
		if t != nil && (last == nil || t.After(*last)) {
			last = t
		}
	}
	if last == nil {
		return defaultIdleMins, nil
	}
	return int(now.Sub(*last) / time.Minute), nil
}

func (p *Processor) cleanup(now time.Time) (string, error) {
	cutoff := now.Add(-Retention)
	threads, err := p.store.ArchiveThreadsBefore(cutoff)
	if err != nil {
		return "", fmt.Errorf("archive threads: %w", err)
	}
	actions, err := p.store.DeleteCompletedBefore(cutoff)
	if err != nil {
		return "", fmt.Errorf("delete old actions: %w", err)
	}
	logging.Info("agenda", "cleanup: archived %d threads, deleted %d actions", threads, actions)
	return OutcomeDispatched, nil
}

// generate asks the model for a text and falls back on any failure.
func (p *Processor) generate(ctx context.Context, prompt, fallback string) string {
	if p.gen == nil {
		return fallback
	}
	out, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		logging.Warn("agenda", "generation failed, using fallback: %v", err)
		return fallback
	}
	if out = strings.TrimSpace(out); out == "" {
		return fallback
	}
	return out
}

func (p *Processor) send(ctx context.Context, n types.Notification, thread string, now time.Time) {
	if err := p.store.InsertNotification(n); err != nil {
		logging.Warn("agenda", "record notification: %v", err)
	}
	if err := p.store.AppendConversation(types.ConversationEntry{
		ThreadID: thread,
		Role:     types.RoleAssistant,
		Content:  n.Message,
		At:       now,
	}); err != nil {
		logging.Warn("agenda", "log message: %v", err)
	}
	if err := p.dispatcher.Dispatch(ctx, n); err != nil {
		logging.Error("agenda", err, "dispatch %q", n.Title)
	}
}

func hhmm(t, now time.Time) string {
	return t.In(now.Location()).Format("15:04")
}

func idleString(minutes int) string {
	h, m := minutes/60, minutes%60
	switch {
	case h == 1:
		return fmt.Sprintf("1 hour and %d minutes", m)
	case h > 1:
		return fmt.Sprintf("%d hours and %d minutes", h, m)
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}
