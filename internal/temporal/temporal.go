// Package temporal classifies tasks relative to the current time. Reminder
// decisions and status rendering both go through Classify so they agree.
package temporal

import (
	"time"

	"github.com/vthunder/chapelotas/internal/types"
)

// State of a task relative to now
type State int

const (
	Future  State = iota
	Present       // ongoing
	Past          // missed
)

func (s State) String() string {
	switch s {
	case Present:
		return "PRESENT"
	case Past:
		return "PAST"
	default:
		return "FUTURE"
	}
}

// Classify places task on the timeline. now == start is PRESENT and
// now == end is PAST; the end defaults to start+1h.
func Classify(task types.Task, now time.Time) State {
	end := task.End()
	switch {
	case !now.Before(end):
		return Past
	case !now.Before(task.ScheduledTime):
		return Present
	default:
		return Future
	}
}

// MinutesUntil returns whole minutes from now to the task start, negative
// once it has started.
func MinutesUntil(task types.Task, now time.Time) int {
	return int(task.ScheduledTime.Sub(now) / time.Minute)
}
