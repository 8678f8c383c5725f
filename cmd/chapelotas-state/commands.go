package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vthunder/chapelotas/internal/activity"
	"github.com/vthunder/chapelotas/internal/app"
	"github.com/vthunder/chapelotas/internal/types"
)

// container opens the core on first use and closes it after the command.
type container struct {
	env app.Env
	now func() time.Time
	a   *app.App
}

func (c *container) app() (*app.App, error) {
	if c.a != nil {
		return c.a, nil
	}
	a, err := app.New(app.Config{
		StatePath:  c.env.StatePath,
		Dispatcher: c.env.RESTDispatcher(),
		Now:        c.now,
	})
	if err != nil {
		return nil, err
	}
	c.a = a
	return a, nil
}

func (c *container) close() {
	if c.a != nil {
		c.a.Close()
		c.a = nil
	}
}

func newRootCommand(env app.Env) *cobra.Command {
	c := &container{env: env, now: time.Now}

	root := &cobra.Command{
		Use:          "chapelotas-state",
		Short:        "Inspect and manage the chapelotas state directory",
		SilenceUsage: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.close()
		},
	}
	root.PersistentFlags().StringVar(&c.env.StatePath, "state", env.StatePath, "state directory")

	root.AddCommand(
		newStatusCommand(c),
		newTasksCommand(c),
		newActionsCommand(c),
		newNotificationsCommand(c),
		newActivityCommand(c),
		newFreeCommand(c),
		newTickCommand(c),
		newResyncCommand(c),
		newAckCommand(c),
		newDoneCommand(c),
		newSnoozeCommand(c),
		newSettingsCommand(c),
	)
	return root
}

func newStatusCommand(c *container) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the next wake-up, next action and last pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			st, err := a.Control.Status()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, st)
			}
			fmt.Fprintf(out, "Active tasks:   %d\n", st.ActiveTasks)
			fmt.Fprintf(out, "Next wake-up:   %s\n", stamp(st.NextAlarm))
			if st.FinalTarget != nil {
				fmt.Fprintf(out, "Final target:   %s\n", stamp(st.FinalTarget))
			}
			fmt.Fprintf(out, "Next action:    %s %s\n", st.NextActionKind, stamp(st.NextActionAt))
			fmt.Fprintf(out, "Next reminder:  %s\n", stamp(st.NextReminder))
			fmt.Fprintf(out, "Last pass:      %s\n", stamp(st.LastPass))
			if st.Degraded {
				fmt.Fprintln(out, "Exact alarms unavailable: running on heartbeats")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newTasksCommand(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List active tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			tasks, err := a.Control.Tasks()
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active tasks.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTART\tTITLE\tFLAGS\tNEXT REMINDER")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.ScheduledTime.Format("2006-01-02 15:04"), t.Title, flags(t), stamp(t.NextReminderAt))
			}
			return tw.Flush()
		},
	}
}

func newActionsCommand(c *container) *cobra.Command {
	var (
		all   bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List agenda actions (pending only unless --all)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			actions, err := a.Store.ListActions(all, limit)
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No actions.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tAT\tKIND\tSTATUS\tEVENT")
			for _, act := range actions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					act.ID, act.ScheduledTime.Format("2006-01-02 15:04"), act.Kind.Name(), act.Status, act.EventID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include completed and cancelled actions")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newNotificationsCommand(c *container) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List recent notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			ns, err := a.Store.RecentNotifications(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tAT\tSTATE\tMESSAGE")
			for _, n := range ns {
				state := "open"
				switch {
				case n.Dismissed:
					state = "dismissed"
				case n.Executed:
					state = "done"
				case n.SnoozedUntil != nil:
					state = "snoozed until " + n.SnoozedUntil.Format("15:04")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.ScheduledTime.Format("01-02 15:04"), state, oneLine(n.Message, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func newActivityCommand(c *container) *cobra.Command {
	var (
		limit  int
		kind   string
		search string
		today  bool
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the daemon's activity journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := activity.New(c.env.StatePath)
			var (
				entries []activity.Entry
				err     error
			)
			switch {
			case search != "":
				entries, err = log.Search(search, limit)
			case kind != "":
				entries, err = log.ByType(activity.Type(kind), limit)
			case today:
				now := c.now()
				y, m, d := now.Date()
				entries, err = log.Since(time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
			default:
				entries, err = log.Recent(limit)
			}
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No activity.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Timestamp.Local().Format("01-02 15:04"), e.Type, oneLine(e.Summary, 70))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 30, "maximum entries")
	cmd.Flags().StringVar(&kind, "type", "", "only entries of this type (reminder, action, response, pass, degraded)")
	cmd.Flags().StringVar(&search, "search", "", "only entries mentioning this text")
	cmd.Flags().BoolVar(&today, "today", false, "only today's entries")
	return cmd
}

func newFreeCommand(c *container) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "free",
		Short: "Show free time inside work hours",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			day := types.StartOfDay(c.now())
			if date != "" {
				if day, err = time.ParseInLocation("2006-01-02", date, time.Local); err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}
			slots, err := a.Control.FreeSlots(day)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(slots) == 0 {
				fmt.Fprintln(out, "No free time.")
				return nil
			}
			for _, s := range slots {
				fmt.Fprintf(out, "%s - %s  %3d min\n", s.Start.Format("15:04"), s.End.Format("15:04"), s.DurationMinutes)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (default today)")
	return cmd
}

func newTickCommand(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one monitoring pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			r, err := a.Control.Tick(cmd.Context(), "cli")
			fmt.Fprintf(cmd.OutOrStdout(), "%d reminders, %d/%d actions, %d snoozed re-sent, next wake-up %s\n",
				r.Reminders, r.Agenda.Processed, r.Agenda.Due, r.Snoozed, stamp(r.NextAlarm))
			return err
		},
	}
}

func newResyncCommand(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Recompute every active task's next reminder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			n, err := a.Control.Resync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resynced %d tasks\n", n)
			return nil
		},
	}
}

func newAckCommand(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <task>",
		Short: "Acknowledge a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			t, err := a.Control.Acknowledge(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged %s (%s)\n", t.Title, t.ID)
			return nil
		},
	}
}

func newDoneCommand(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "done <task>",
		Short: "Mark a task as finished",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			t, err := a.Control.Finish(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Finished %s (%s)\n", t.Title, t.ID)
			return nil
		},
	}
}

func newSnoozeCommand(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "snooze [notification] [minutes]",
		Short: "Snooze a notification (default: the latest open one)",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				nid     string
				minutes int
			)
			for _, arg := range args {
				if n, err := strconv.Atoi(arg); err == nil {
					minutes = n
				} else {
					nid = arg
				}
			}
			a, err := c.app()
			if err != nil {
				return err
			}
			res, err := a.Control.Snooze(cmd.Context(), nid, minutes, "")
			if err != nil {
				return err
			}
			if !res.Applied || res.SnoozeUntil == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Already snoozed.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snoozed until %s\n", res.SnoozeUntil.Format("15:04"))
			return nil
		},
	}
}

func newSettingsCommand(c *container) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(a.Settings().Normalize())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", a.SettingsPath(), data)
			return nil
		},
	}
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

func flags(t types.Task) string {
	var f []string
	if t.IsTodo() {
		f = append(f, "todo")
	}
	if t.IsCritical {
		f = append(f, "critical")
	}
	if t.IsAcknowledged {
		f = append(f, "ack")
	}
	if t.IsFromCalendar {
		f = append(f, "calendar")
	}
	return strings.Join(f, ",")
}

func oneLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
