package senses

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vthunder/chapelotas/internal/control"
	"github.com/vthunder/chapelotas/internal/effectors"
	"github.com/vthunder/chapelotas/internal/freetime"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/persona"
	"github.com/vthunder/chapelotas/internal/store"
	"github.com/vthunder/chapelotas/internal/types"
	"github.com/vthunder/chapelotas/internal/useraction"
)

// Operations is what chat commands can do. *control.Control implements it.
type Operations interface {
	Tasks() ([]types.Task, error)
	Acknowledge(ctx context.Context, ref string) (types.Task, error)
	Finish(ctx context.Context, ref string) (types.Task, error)
	Snooze(ctx context.Context, notificationID string, minutes int, deliveryID string) (useraction.Result, error)
	Respond(ctx context.Context, in useraction.Input) (useraction.Result, error)
	FreeSlots(day time.Time) ([]freetime.Slot, error)
	Status() (control.Status, error)
	Settings() types.Settings
}

// Phrases renders personality text. *persona.Provider implements it.
type Phrases interface {
	Get(personality, contextKey string, placeholders map[string]string) string
}

const helpText = "Commands: `!tasks`, `!ack <task>`, `!done <task>`, `!snooze [notification] [minutes]`, `!free [YYYY-MM-DD]`, `!status`.\n" +
	"React to a reminder with ✅ to dismiss, 💤 to snooze, 👀 to open."

// Commands turns chat lines and reactions into operations. It knows
// nothing about Discord.
type Commands struct {
	ops     Operations
	phrases Phrases
	now     func() time.Time
}

func NewCommands(ops Operations, phrases Phrases) *Commands {
	return &Commands{ops: ops, phrases: phrases, now: time.Now}
}

// Message carries a chat line and where it came from.
type Message struct {
	Content    string
	DeliveryID string
	ReplyTo    string // notification id of the message being replied to
}

// Execute runs a "!" command. ok is false for lines that are not commands.
func (c *Commands) Execute(ctx context.Context, m Message) (reply string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(m.Content))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return "", false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	logging.Debug("commands", "%s %v", cmd, args)

	switch cmd {
	case "!tasks":
		return c.tasks(), true
	case "!ack":
		if len(args) == 0 {
			return "Usage: `!ack <task>`", true
		}
		t, err := c.ops.Acknowledge(ctx, strings.Join(args, " "))
		if err != nil {
			return describe(err), true
		}
		return fmt.Sprintf("Acknowledged '%s'.", t.Title), true
	case "!done":
		if len(args) == 0 {
			return "Usage: `!done <task>`", true
		}
		t, err := c.ops.Finish(ctx, strings.Join(args, " "))
		if err != nil {
			return describe(err), true
		}
		return c.confirm("done", fmt.Sprintf("Marked '%s' as done.", t.Title), nil), true
	case "!snooze":
		return c.snooze(ctx, m, args), true
	case "!free":
		return c.free(args), true
	case "!status":
		return c.status(), true
	default:
		return helpText, true
	}
}

// React applies a reaction on a reminder. The reply is empty when there is
// nothing to say.
func (c *Commands) React(ctx context.Context, notificationID, emoji, deliveryID string) string {
	var action types.UserAction
	switch emoji {
	case effectors.ReactionDismiss:
		action = types.ActionDismiss
	case effectors.ReactionSnooze:
		action = types.ActionSnooze
	case effectors.ReactionOpen:
		action = types.ActionOpen
	default:
		return ""
	}

	res, err := c.ops.Respond(ctx, useraction.Input{
		NotificationID: notificationID,
		Action:         action,
		DeliveryID:     deliveryID,
	})
	if err != nil {
		logging.Warn("commands", "%s on %s: %v", action, notificationID, err)
		return ""
	}
	if !res.Applied {
		return ""
	}
	switch action {
	case types.ActionSnooze:
		return c.snoozed(res)
	case types.ActionDismiss:
		return c.confirm("dismiss", "Dismissed.", nil)
	}
	return ""
}

func (c *Commands) tasks() string {
	tasks, err := c.ops.Tasks()
	if err != nil {
		return describe(err)
	}
	if len(tasks) == 0 {
		return "Nothing on your plate."
	}
	now := c.now()
	var b strings.Builder
	for _, t := range tasks {
		marker := ""
		if t.IsCritical {
			marker = " 🚨"
		}
		if t.IsAcknowledged {
			marker += " ✓"
		}
		fmt.Fprintf(&b, "• %s  %s%s  `%s`\n", when(t.ScheduledTime, now), t.Title, marker, shortID(t.ID))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Commands) snooze(ctx context.Context, m Message, args []string) string {
	var (
		id      = m.ReplyTo
		minutes int
	)
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			minutes = n
			continue
		}
		id = a
	}
	res, err := c.ops.Snooze(ctx, id, minutes, m.DeliveryID)
	if err != nil {
		return describe(err)
	}
	if !res.Applied {
		return "Already snoozed."
	}
	return c.snoozed(res)
}

func (c *Commands) snoozed(res useraction.Result) string {
	mins := c.ops.Settings().SnoozeMinutes
	if res.SnoozeUntil != nil {
		mins = int(res.SnoozeUntil.Sub(c.now()).Round(time.Minute) / time.Minute)
	}
	m := strconv.Itoa(mins)
	return c.confirm("snooze", "Snoozed for "+m+" minutes.", map[string]string{"{MINUTES}": m})
}

func (c *Commands) free(args []string) string {
	day := c.now()
	if len(args) > 0 {
		d, err := time.ParseInLocation("2006-01-02", args[0], day.Location())
		if err != nil {
			return "Usage: `!free [YYYY-MM-DD]`"
		}
		day = d
	}
	slots, err := c.ops.FreeSlots(day)
	if err != nil {
		return describe(err)
	}
	if len(slots) == 0 {
		return "No free time that day."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Free on %s:\n", day.Format("Mon Jan 2"))
	for _, s := range slots {
		fmt.Fprintf(&b, "• %s-%s (%d min)\n", s.Start.Format("15:04"), s.End.Format("15:04"), s.DurationMinutes)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Commands) status() string {
	st, err := c.ops.Status()
	if err != nil {
		return describe(err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d active tasks.", st.ActiveTasks)
	if st.NextAlarm != nil {
		fmt.Fprintf(&b, " Next wake-up %s.", when(*st.NextAlarm, st.Now))
	}
	if st.NextActionAt != nil {
		fmt.Fprintf(&b, " Next action %s %s.", st.NextActionKind, when(*st.NextActionAt, st.Now))
	}
	if st.Degraded {
		b.WriteString(" ⚠️ Exact alarms unavailable, running on heartbeats.")
	}
	return b.String()
}

func (c *Commands) confirm(sub, fallback string, placeholders map[string]string) string {
	if c.phrases == nil {
		return fallback
	}
	s := c.ops.Settings()
	if placeholders == nil {
		placeholders = map[string]string{}
	}
	placeholders["{USER_NAME}"] = s.UserName
	if msg := c.phrases.Get(persona.For(s), persona.ActionConfirmation+"."+sub, placeholders); msg != "" {
		return msg
	}
	return fallback
}

func describe(err error) string {
	switch {
	case errors.Is(err, control.ErrAmbiguous):
		return "More than one task matches that, be more specific."
	case errors.Is(err, store.ErrNotFound):
		return "I can't find that."
	default:
		return "Something went wrong: " + err.Error()
	}
}

func when(t, now time.Time) string {
	t = t.In(now.Location())
	if types.SameDay(t, now) {
		return t.Format("15:04")
	}
	return t.Format("Mon 15:04")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
