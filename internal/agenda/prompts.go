package agenda

import (
	"fmt"
	"strings"
	"time"

	"github.com/vthunder/chapelotas/internal/temporal"
	"github.com/vthunder/chapelotas/internal/types"
)

func tone(s types.Settings) string {
	if s.SarcasticMode {
		return "a sarcastic but caring"
	}
	return "a professional"
}

func eventPrompt(task types.Task, now time.Time, s types.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are Chapelotas, %s personal secretary.\n\n", tone(s))
	fmt.Fprintf(&b, "Event: %s\n", task.Title)
	fmt.Fprintf(&b, "Time: %s\n", hhmm(task.ScheduledTime, now))
	if task.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", task.Location)
	}
	fmt.Fprintf(&b, "Starts in: %d minutes\n\n", temporal.MinutesUntil(task, now))
	b.WriteString("Write a SHORT reminder (2 lines max).")
	if task.IsCritical {
		b.WriteString(" THIS IS CRITICAL! Be more emphatic.")
	}
	return b.String()
}

func eventFallback(task types.Task, now time.Time) string {
	m := temporal.MinutesUntil(task, now)
	if m <= 0 {
		return fmt.Sprintf("Reminder: %s (now)", task.Title)
	}
	return fmt.Sprintf("Reminder: %s in %d min", task.Title, m)
}

func staleSummaryPrompt(n int, list string, s types.Settings) string {
	p := fmt.Sprintf("You are Chapelotas, %s personal secretary.\n\n"+
		"While I was asleep or offline, %d reminders were missed:\n%s\n\n"+
		"Write a SHORT message (3 lines max) summarizing the situation.", tone(s), n, list)
	if s.SarcasticMode {
		p += " You may joke about having been asleep."
	}
	return p
}

func dailySummaryPrompt(n int, list string, s types.Settings) string {
	p := fmt.Sprintf("You are Chapelotas, %s personal secretary.\n\n"+
		"Give the summary of the day. Events today (%d in total):\n%s\n\n"+
		"Write a SHORT welcome/summary message (3 lines max).", tone(s), n, list)
	if s.SarcasticMode {
		p += " Feel free to be sarcastic about how much there is to do."
	} else {
		p += " Be professional and encouraging."
	}
	return p
}

func idlePrompt(idle int, next string) string {
	return fmt.Sprintf("You are Chapelotas, a VERY sarcastic executive secretary.\n"+
		"Your boss has done absolutely NOTHING for %s.\n%s\n\n"+
		"Mock them for it, be creative, get more insistent if it has been over 2 hours. "+
		"Short message, 2 lines max, emojis welcome.", idleString(idle), next)
}
