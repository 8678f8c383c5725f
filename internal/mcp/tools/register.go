package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/chapelotas/internal/activity"
	"github.com/vthunder/chapelotas/internal/control"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/types"
	"github.com/vthunder/chapelotas/internal/useraction"
)

// RegisterAll registers every tool with s.
func RegisterAll(s *server.MCPServer, deps *Dependencies) {
	s.AddTools(Definitions(deps)...)
}

// Definitions returns the tools with their handlers.
func Definitions(deps *Dependencies) []server.ServerTool {
	var out []server.ServerTool
	add := func(tool mcp.Tool, h server.ToolHandlerFunc) {
		name := tool.Name
		out = append(out, server.ServerTool{
			Tool: tool,
			Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				logging.Debug("mcp", "%s %v", name, req.Params.Arguments)
				deps.called(name)
				return h(ctx, req)
			},
		})
	}

	registerTaskTools(add, deps)
	registerNotificationTools(add, deps)
	registerScheduleTools(add, deps)
	registerStateTools(add, deps)
	return out
}

type adder func(mcp.Tool, server.ToolHandlerFunc)

func registerTaskTools(add adder, deps *Dependencies) {
	add(mcp.NewTool("list_tasks",
		mcp.WithDescription("List active tasks (unfinished, not cancelled), earliest first, with their next reminder time."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := deps.Ops.Tasks()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
		}
		views := make([]taskView, 0, len(tasks))
		for _, t := range tasks {
			views = append(views, viewOf(t))
		}
		return jsonResult(views)
	})

	add(mcp.NewTool("acknowledge_task",
		mcp.WithDescription("Mark a task as acknowledged: the user knows about it. Reminders continue at the calmer acknowledged cadence."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Task id, id prefix or part of the title")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref := stringArg(req, "task")
		if ref == "" {
			return mcp.NewToolResultError("task is required"), nil
		}
		t, err := deps.Ops.Acknowledge(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to acknowledge: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Acknowledged '%s' (%s)", t.Title, t.ID)), nil
	})

	add(mcp.NewTool("finish_task",
		mcp.WithDescription("Mark a task as done. Its pending notifications are cancelled and no more reminders are sent."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Task id, id prefix or part of the title")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref := stringArg(req, "task")
		if ref == "" {
			return mcp.NewToolResultError("task is required"), nil
		}
		t, err := deps.Ops.Finish(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to finish: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Finished '%s' (%s)", t.Title, t.ID)), nil
	})

	add(mcp.NewTool("add_task",
		mcp.WithDescription("Add a task by hand and plan its reminders. Calendar events are synced automatically and do not need this."),
		mcp.WithString("title", mcp.Required(), mcp.Description("What the task is")),
		mcp.WithString("start", mcp.Required(), mcp.Description("Start time: RFC3339, 'YYYY-MM-DD HH:MM' or 'HH:MM' for today")),
		mcp.WithNumber("duration_minutes", mcp.Description("Length of the task. Default 0 (a point in time).")),
		mcp.WithBoolean("todo", mcp.Description("A to-do nags hourly on its day instead of counting down to a start time")),
		mcp.WithBoolean("critical", mcp.Description("Critical tasks get extra high-priority reminders")),
		mcp.WithString("location", mcp.Description("Travel context for travel-time hints"), mcp.Enum("office", "nearby", "far")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title := stringArg(req, "title")
		if title == "" {
			return mcp.NewToolResultError("title is required"), nil
		}
		start, err := parseWhen(stringArg(req, "start"), deps.now())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		nt := control.NewTask{
			Title:    title,
			At:       start,
			Todo:     boolArg(req, "todo"),
			Critical: boolArg(req, "critical"),
			Location: types.LocationContext(stringArg(req, "location")),
		}
		if nt.Location == "" {
			nt.Location = types.LocationOffice
		}
		if d := intArg(req, "duration_minutes"); d > 0 {
			end := start.Add(time.Duration(d) * time.Minute)
			nt.End = &end
		}
		t, err := deps.Ops.AddTask(ctx, nt)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to add task: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Added '%s' at %s (id %s)", t.Title, t.ScheduledTime.Format(time.RFC3339), t.ID)), nil
	})

	add(mcp.NewTool("plan_event",
		mcp.WithDescription("Cancel and re-plan the notification actions of one task. Returns how many actions were queued."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Task id, id prefix or part of the title")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref := stringArg(req, "task")
		if ref == "" {
			return mcp.NewToolResultError("task is required"), nil
		}
		n, err := deps.Ops.PlanEvent(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to plan: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Queued %d notification actions", n)), nil
	})
}

func registerNotificationTools(add adder, deps *Dependencies) {
	add(mcp.NewTool("snooze_notification",
		mcp.WithDescription("Snooze a notification. It is shown again when the snooze ends, unless its task is finished by then."),
		mcp.WithString("notification_id", mcp.Description("Notification to snooze. Default: the latest open one.")),
		mcp.WithNumber("minutes", mcp.Description("Snooze length. Default: the snooze_minutes setting.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Ops.Snooze(ctx, stringArg(req, "notification_id"), intArg(req, "minutes"), "")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to snooze: %v", err)), nil
		}
		if !res.Applied || res.SnoozeUntil == nil {
			return mcp.NewToolResultText("Nothing to snooze (already snoozed)"), nil
		}
		return mcp.NewToolResultText("Snoozed until " + res.SnoozeUntil.Format("15:04")), nil
	})

	add(mcp.NewTool("respond_notification",
		mcp.WithDescription("Record the user's response to a notification."),
		mcp.WithString("notification_id", mcp.Required(), mcp.Description("Notification id")),
		mcp.WithString("action", mcp.Required(), mcp.Description("What the user did"), mcp.Enum("snooze", "dismiss", "open")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		nid := stringArg(req, "notification_id")
		if nid == "" {
			return mcp.NewToolResultError("notification_id is required"), nil
		}
		action := types.UserAction(strings.ToUpper(stringArg(req, "action")))
		switch action {
		case types.ActionSnooze, types.ActionDismiss, types.ActionOpen:
		default:
			return mcp.NewToolResultError("action must be snooze, dismiss or open"), nil
		}
		res, err := deps.Ops.Respond(ctx, useraction.Input{NotificationID: nid, Action: action})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to respond: %v", err)), nil
		}
		if !res.Applied {
			return mcp.NewToolResultText("No change (unknown notification or already handled)"), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Recorded %s", action)), nil
	})
}

func registerScheduleTools(add adder, deps *Dependencies) {
	add(mcp.NewTool("free_slots",
		mcp.WithDescription("List free time inside work hours for one day."),
		mcp.WithString("date", mcp.Description("Day as YYYY-MM-DD. Default: today.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		day, err := parseDay(stringArg(req, "date"), deps.now())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		slots, err := deps.Ops.FreeSlots(day)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to compute free slots: %v", err)), nil
		}
		return jsonResult(slots)
	})

	add(mcp.NewTool("get_schedule",
		mcp.WithDescription("Day view: busy blocks with travel legs, free chunks and the status of each part of the day."),
		mcp.WithString("date", mcp.Description("Day as YYYY-MM-DD. Default: today.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		day, err := parseDay(stringArg(req, "date"), deps.now())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		view, err := deps.Ops.Schedule(day)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to build schedule: %v", err)), nil
		}
		return jsonResult(view)
	})
}

func registerStateTools(add adder, deps *Dependencies) {
	add(mcp.NewTool("next_wakeup",
		mcp.WithDescription("Show when the daemon wakes up next, the next pending action and reminder, and whether exact alarms are degraded."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Ops.Status()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read status: %v", err)), nil
		}
		return jsonResult(st)
	})

	add(mcp.NewTool("run_check",
		mcp.WithDescription("Run a monitoring pass now: due reminders, due actions, daily seeding and alarm re-arm."),
		mcp.WithString("reason", mcp.Description("Logged with the pass")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reason := stringArg(req, "reason")
		if reason == "" {
			reason = "mcp"
		}
		r, err := deps.Ops.Tick(ctx, reason)
		text := fmt.Sprintf("Pass done: %d reminders, %d/%d actions, %d snoozed re-sent",
			r.Reminders, r.Agenda.Processed, r.Agenda.Due, r.Snoozed)
		if r.NextAlarm != nil {
			text += ", next wake-up " + r.NextAlarm.Format(time.DateTime)
		}
		if err != nil {
			return mcp.NewToolResultError(text + " (with errors: " + err.Error() + ")"), nil
		}
		return mcp.NewToolResultText(text), nil
	})

	add(mcp.NewTool("resync_reminders",
		mcp.WithDescription("Recompute every active task's next reminder from scratch and re-arm."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n, err := deps.Ops.Resync(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to resync: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Resynced %d tasks", n)), nil
	})

	if deps.Activity == nil {
		return
	}
	add(mcp.NewTool("recent_activity",
		mcp.WithDescription("Show what the reminder daemon did recently: reminders sent, agenda actions, user responses, passes and alarm trouble. Newest entries come last unless searching."),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
		mcp.WithString("type", mcp.Description("Only entries of this type"), mcp.Enum("reminder", "action", "response", "pass", "degraded")),
		mcp.WithString("search", mcp.Description("Only entries mentioning this text")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := intArg(req, "limit")
		if limit <= 0 {
			limit = 20
		}
		var (
			entries []activity.Entry
			err     error
		)
		switch {
		case stringArg(req, "search") != "":
			entries, err = deps.Activity.Search(stringArg(req, "search"), limit)
		case stringArg(req, "type") != "":
			entries, err = deps.Activity.ByType(activity.Type(stringArg(req, "type")), limit)
		default:
			entries, err = deps.Activity.Recent(limit)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read activity: %v", err)), nil
		}
		if len(entries) == 0 {
			return mcp.NewToolResultText("No activity recorded."), nil
		}
		return jsonResult(entries)
	})
}

// taskView is the JSON shape of a task in tool output
type taskView struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Kind           string     `json:"kind"`
	Start          time.Time  `json:"start"`
	End            *time.Time `json:"end,omitempty"`
	Location       string     `json:"location,omitempty"`
	Critical       bool       `json:"critical,omitempty"`
	Acknowledged   bool       `json:"acknowledged,omitempty"`
	FromCalendar   bool       `json:"from_calendar,omitempty"`
	NextReminderAt *time.Time `json:"next_reminder_at,omitempty"`
}

func viewOf(t types.Task) taskView {
	return taskView{
		ID:             t.ID,
		Title:          t.Title,
		Kind:           string(t.Kind),
		Start:          t.ScheduledTime,
		End:            t.EndTime,
		Location:       t.Location,
		Critical:       t.IsCritical,
		Acknowledged:   t.IsAcknowledged,
		FromCalendar:   t.IsFromCalendar,
		NextReminderAt: t.NextReminderAt,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := req.Params.Arguments.(map[string]any)
	return args
}

func stringArg(req mcp.CallToolRequest, key string) string {
	s, _ := arguments(req)[key].(string)
	return strings.TrimSpace(s)
}

func boolArg(req mcp.CallToolRequest, key string) bool {
	b, _ := arguments(req)[key].(bool)
	return b
}

// intArg reads a JSON number; missing or malformed values are 0.
func intArg(req mcp.CallToolRequest, key string) int {
	switch v := arguments(req)[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// parseWhen accepts RFC3339, "YYYY-MM-DD HH:MM" and "HH:MM" (today).
func parseWhen(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("start is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, now.Location()); err == nil {
		return t, nil
	}
	if c, err := types.ParseClock(s); err == nil {
		return c.On(now), nil
	}
	return time.Time{}, fmt.Errorf("cannot read start %q: use RFC3339, 'YYYY-MM-DD HH:MM' or 'HH:MM'", s)
}

func parseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return types.StartOfDay(now), nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD, got %q", s)
	}
	return d, nil
}
