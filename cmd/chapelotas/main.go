package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vthunder/chapelotas/internal/activity"
	"github.com/vthunder/chapelotas/internal/agenda"
	"github.com/vthunder/chapelotas/internal/app"
	"github.com/vthunder/chapelotas/internal/effectors"
	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/integrations/calendar"
	"github.com/vthunder/chapelotas/internal/llm"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/metrics"
	"github.com/vthunder/chapelotas/internal/platform"
	"github.com/vthunder/chapelotas/internal/senses"
	"github.com/vthunder/chapelotas/internal/types"
	"github.com/vthunder/chapelotas/internal/wakeup"
)

func main() {
	env := app.LoadEnv()
	closeLog, err := logging.Setup(env.LogLevel, env.LogFile)
	if err != nil {
		logging.Warn("main", "logging setup: %v", err)
	}
	defer closeLog()

	logging.Info("main", "chapelotas - reminder daemon, state in %s", env.StatePath)

	if err := run(env); err != nil {
		logging.Error("main", err, "exiting")
		closeLog()
		os.Exit(1)
	}
	logging.Info("main", "Goodbye!")
}

func run(env app.Env) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New(256)
	m := metrics.New()
	capability := platform.Detect(ctx)
	if capability.Capped() {
		logging.Info("main", "%s caps alarms at %s", capability.Vendor, capability.MaxLookahead)
	}

	// Dispatch: the notifications file always, Discord when configured.
	var (
		discordSense *senses.DiscordSense
		discord      *effectors.DiscordDispatcher
		err          error
	)
	dispatcher := effectors.Multi{effectors.NewFileDispatcher(env.StatePath)}
	if env.DiscordToken != "" {
		discordSense, err = senses.NewDiscordSense(senses.DiscordConfig{
			Token:     env.DiscordToken,
			ChannelID: env.DiscordChannel,
			OwnerID:   env.DiscordOwner,
		})
		if err != nil {
			return err
		}
		discord = effectors.NewDiscordDispatcher(discordSense.Session, env.DiscordChannel, env.DiscordOwner)
		dispatcher = append(dispatcher, discord)
	} else {
		logging.Warn("main", "DISCORD_TOKEN not set, notifications only go to the notifications file")
	}

	var gen agenda.Generator
	if env.OllamaURL != "" || env.OllamaModel != "" {
		gen = llm.NewClient(env.OllamaURL, env.OllamaModel)
	}

	runner := wakeup.NewRunner()
	core, err := app.New(app.Config{
		StatePath:  env.StatePath,
		Dispatcher: dispatcher,
		Retractor:  dispatcher,
		Alarm:      runner,
		Capability: capability,
		Generator:  gen,
		Events:     bus,
		Metrics:    m,
	})
	if err != nil {
		return err
	}
	defer core.Close()

	subscribe(bus, dispatcher)
	activity.New(env.StatePath).Attach(bus)
	go bus.Start(ctx)

	if discordSense != nil {
		discordSense.Bind(senses.NewCommands(core.Control, core.Persona), discord)
		if err := discordSense.Start(); err != nil {
			return err
		}
		defer discordSense.Stop()
	}

	var calendarSense *senses.CalendarSense
	if env.CalendarCredentials != "" {
		client, err := calendar.NewClientWithConfig(calendar.Config{
			CredentialsFile: env.CalendarCredentials,
			CalendarID:      env.CalendarID,
		})
		if err != nil {
			logging.Error("main", err, "calendar disabled")
		} else {
			calendarSense = senses.NewCalendarSense(senses.CalendarConfig{
				Source:     client,
				Store:      core.Store,
				Planner:    core.Monkey,
				Dispatcher: dispatcher,
				Settings:   core.Settings,
				NewID:      uuid.NewString,
			})
			calendarSense.OnChange(func(ctx context.Context) {
				if _, err := core.Monkey.Tick(ctx, "calendar"); err != nil {
					logging.Warn("main", "pass after calendar sync: %v", err)
				}
			})
		}
	}

	runner.Handle(core.OnWake(ctx))
	if err := runner.EnsureHeartbeats(); err != nil {
		return err
	}
	runner.Start()

	// Startup recomputes every reminder from scratch, then arms.
	if n, err := core.Monkey.Resync(ctx); err != nil {
		logging.Warn("main", "startup resync: %v", err)
	} else {
		logging.Info("main", "resynced %d tasks", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	if env.MetricsAddr != "" {
		g.Go(func() error { return m.Serve(gctx, env.MetricsAddr) })
	}
	if calendarSense != nil {
		if err := calendarSense.Start(); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return calendarSense.Stop()
		})
	}

	logging.Info("main", "All subsystems started. Press Ctrl+C to stop.")
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()

	logging.Info("main", "Shutting down...")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runner.Stop(stopCtx)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// subscribe wires the event bus into logging and user-facing warnings.
func subscribe(bus *eventbus.EventBus, dispatcher types.Dispatcher) {
	bus.SubscribeWakeupDegraded(func(p eventbus.WakeupDegradedPayload) {
		n := types.Notification{
			ID:            uuid.NewString(),
			Title:         "Reminders may be late",
			Message:       "I can't set exact alarms on this machine, so reminders may arrive up to 15 minutes late.",
			Priority:      types.PriorityHigh,
			Channel:       types.ChannelGeneral,
			ScheduledTime: time.Now(),
			CreatedAt:     time.Now(),
		}
		if err := dispatcher.Dispatch(context.Background(), n); err != nil {
			logging.Warn("main", "degraded notice: %v", err)
		}
	})
	bus.SubscribeUserResponded(func(p eventbus.UserRespondedPayload) {
		logging.Debug("main", "user %s on %s", p.Action, p.NotificationID)
	})
	bus.SubscribeCheckCompleted(func(p eventbus.CheckCompletedPayload) {
		if p.NextAlarm != nil {
			logging.Debug("main", "pass %s done, next wake-up %s", p.Reason, p.NextAlarm.Format(time.Kitchen))
		}
	})
	bus.OnDrop(func(e eventbus.Event, _ any) {
		logging.Warn("main", "event bus full, dropped %v", e)
	})
}
