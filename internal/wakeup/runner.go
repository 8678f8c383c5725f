package wakeup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/vthunder/chapelotas/internal/logging"
)

// Heartbeat purposes
const (
	PurposeHeartbeat = "heartbeat"
	PurposeKeepAlive = "keepalive"
)

// Entry is one scheduled wake-up
type Entry struct {
	Purpose string
	Next    time.Time
}

// Runner drives both the exact alarms and the periodic heartbeats from one
// cron scheduler. It implements Alarm.
type Runner struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	handler func(purpose string)
}

// NewRunner creates a stopped runner. Call Handle before Start.
func NewRunner() *Runner {
	logger := cronLogger{logging.For("cron")}
	return &Runner{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		entries: make(map[string]cron.EntryID),
	}
}

// Handle sets the function invoked with the purpose of every wake-up.
func (r *Runner) Handle(fn func(purpose string)) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

func (r *Runner) fire(purpose string) {
	r.mu.Lock()
	fn := r.handler
	r.mu.Unlock()
	if fn == nil {
		logging.Warn("wakeup", "%s fired with no handler", purpose)
		return
	}
	fn(purpose)
}

// Arm schedules a one-shot wake-up, replacing any earlier one for purpose.
func (r *Runner) Arm(purpose string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(purpose)
	r.entries[purpose] = r.cron.Schedule(once{at: at}, cron.FuncJob(func() { r.fire(purpose) }))
	return nil
}

// Cancel drops the wake-up for purpose, if any.
func (r *Runner) Cancel(purpose string) {
	r.mu.Lock()
	r.removeLocked(purpose)
	r.mu.Unlock()
}

func (r *Runner) removeLocked(purpose string) {
	if id, ok := r.entries[purpose]; ok {
		r.cron.Remove(id)
		delete(r.entries, purpose)
	}
}

// EnsureHeartbeats registers the heartbeat and keep-alive jobs. Calling it
// again is a no-op.
func (r *Runner) EnsureHeartbeats() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for purpose, every := range map[string]time.Duration{
		PurposeHeartbeat: HeartbeatInterval,
		PurposeKeepAlive: KeepAliveInterval,
	} {
		if _, ok := r.entries[purpose]; ok {
			continue
		}
		p := purpose
		id, err := r.cron.AddFunc(fmt.Sprintf("@every %s", every), func() { r.fire(p) })
		if err != nil {
			return fmt.Errorf("register %s: %w", purpose, err)
		}
		r.entries[purpose] = id
		logging.Debug("wakeup", "registered %s every %s", purpose, every)
	}
	return nil
}

// Entries lists scheduled wake-ups by next run time.
func (r *Runner) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for purpose, id := range r.entries {
		out = append(out, Entry{Purpose: purpose, Next: r.cron.Entry(id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (r *Runner) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// once is a cron.Schedule that fires a single time.
type once struct{ at time.Time }

func (o once) Next(t time.Time) time.Time {
	if o.at.After(t) {
		return o.at
	}
	return time.Time{}
}

type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
