// Package app assembles the scheduling core from a state directory. The
// daemon, the MCP server and the state CLI all build on it.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vthunder/chapelotas/internal/agenda"
	"github.com/vthunder/chapelotas/internal/control"
	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/metrics"
	"github.com/vthunder/chapelotas/internal/monkey"
	"github.com/vthunder/chapelotas/internal/persona"
	"github.com/vthunder/chapelotas/internal/platform"
	"github.com/vthunder/chapelotas/internal/reminder"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
	"github.com/vthunder/chapelotas/internal/useraction"
	"github.com/vthunder/chapelotas/internal/wakeup"
)

// Config describes how to build the core. Only StatePath and Dispatcher
// are required.
type Config struct {
	StatePath  string
	Dispatcher types.Dispatcher
	Retractor  useraction.Retractor

	// Alarm arms wake-ups. Nil means this process does not own alarms;
	// the daemon's heartbeat picks up whatever it schedules.
	Alarm      wakeup.Alarm
	Capability platform.Capability
	Generator  agenda.Generator // nil: local fallback texts

	Events  *eventbus.EventBus
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// App is the assembled core
type App struct {
	Store     *store.Store
	Persona   *persona.Provider
	Reminders *reminder.Engine
	Agenda    *agenda.Processor
	Planner   *agenda.Planner
	Scheduler *wakeup.Scheduler
	Actions   *useraction.Handler
	Monkey    *monkey.Service
	Control   *control.Control

	settingsPath string
	mu           sync.RWMutex
	settings     types.Settings
}

// SettingsFile is the user settings file inside the state dir
const SettingsFile = "settings.yaml"

// New opens the store under cfg.StatePath and wires every component.
func New(cfg Config) (*App, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Alarm == nil {
		cfg.Alarm = passiveAlarm{}
	}
	if err := os.MkdirAll(cfg.StatePath, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	a := &App{settingsPath: filepath.Join(cfg.StatePath, SettingsFile)}
	if err := a.ReloadSettings(); err != nil {
		logging.Warn("app", "%v; using defaults", err)
	}

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	a.Store = st

	a.Persona, err = persona.New(filepath.Join(cfg.StatePath, "personalities"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load personalities: %w", err)
	}

	a.Reminders = reminder.New(st, a.Persona, cfg.Dispatcher).
		WithEvents(cfg.Events).
		WithMetrics(cfg.Metrics)
	a.Agenda = agenda.NewProcessor(st, cfg.Generator, a.Persona, cfg.Dispatcher).
		WithEvents(cfg.Events).
		WithMetrics(cfg.Metrics)
	a.Planner = agenda.NewPlanner(st)
	a.Scheduler = wakeup.NewScheduler(st, cfg.Alarm, cfg.Capability).
		WithEvents(cfg.Events).
		WithMetrics(cfg.Metrics)

	a.Actions = useraction.New(st).
		WithEvents(cfg.Events).
		WithMetrics(cfg.Metrics)
	if cfg.Retractor != nil {
		a.Actions = a.Actions.WithRetractor(cfg.Retractor)
	}

	a.Monkey = monkey.New(monkey.Config{
		Store:      st,
		Reminders:  a.Reminders,
		Agenda:     a.Agenda,
		Planner:    a.Planner,
		Wakeup:     a.Scheduler,
		Dispatcher: cfg.Dispatcher,
		Settings:   a.Settings,
		Now:        cfg.Now,
		Events:     cfg.Events,
		Metrics:    cfg.Metrics,
	})

	a.Control = control.New(control.Dependencies{
		Store:     st,
		Monkey:    a.Monkey,
		Actions:   a.Actions,
		Scheduler: a.Scheduler,
		Settings:  a.Settings,
		Now:       cfg.Now,
	})
	return a, nil
}

// Settings returns the last loaded settings
func (a *App) Settings() types.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// ReloadSettings re-reads settings.yaml. On error the defaults apply.
func (a *App) ReloadSettings() error {
	s, err := types.LoadSettings(a.settingsPath)
	a.mu.Lock()
	a.settings = s
	a.mu.Unlock()
	return err
}

func (a *App) SettingsPath() string { return a.settingsPath }

func (a *App) Close() error {
	return a.Store.Close()
}

// passiveAlarm is used by processes that do not own the wake-up timers.
type passiveAlarm struct{}

func (passiveAlarm) Arm(purpose string, at time.Time) error {
	logging.Debug("app", "%s wake-up at %s left to the daemon", purpose, at.Format(time.DateTime))
	return nil
}

func (passiveAlarm) Cancel(string) {}

// OnWake runs a pass on every heartbeat and keep-alive, and routes alarm
// purposes to the monitoring service. It is the daemon's runner handler.
func (a *App) OnWake(ctx context.Context) func(purpose string) {
	return func(purpose string) {
		switch purpose {
		case wakeup.PurposeHeartbeat, wakeup.PurposeKeepAlive:
			if err := a.ReloadSettings(); err != nil {
				logging.Warn("app", "reload settings: %v", err)
			}
			if _, err := a.Monkey.Tick(ctx, purpose); err != nil {
				logging.Warn("app", "%s pass: %v", purpose, err)
			}
		default:
			a.Monkey.OnAlarm(ctx, purpose)
		}
	}
}
