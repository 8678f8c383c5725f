// Package freetime turns a day's tasks into busy blocks and aligned free
// chunks.
package freetime

import (
	"fmt"
	"slices"
	"time"

	"github.com/vthunder/chapelotas/internal/types"
)

const (
	ChunkMinutes       = 60
	MinFragmentMinutes = 30
	AlignMinutes       = 15
)

// Slot is a free chunk of time
type Slot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Description     string    `json:"description"`
}

// Block is a busy interval, either a task or one of its travel legs.
type Block struct {
	Start        time.Time
	End          time.Time
	Label        string
	EventID      string
	Travel       bool
	FromCalendar bool
}

// FreeSlots computes the free chunks between workStart and workEnd. Busy
// time is each task padded by its travel time on both sides; overlapping
// or touching intervals are merged before the gaps are split.
func FreeSlots(workStart, workEnd time.Time, tasks []types.Task) []Slot {
	slots := []Slot{}
	if !workStart.Before(workEnd) {
		return slots
	}
	for _, g := range gaps(workStart, workEnd, mergeBlocks(busyBlocks(tasks), true)) {
		slots = append(slots, SplitSlot(g.start, g.end)...)
	}
	return slots
}

// BusyBlocks returns the merged busy intervals of tasks.
func BusyBlocks(tasks []types.Task) []Block {
	return mergeBlocks(busyBlocks(tasks), true)
}

func busyBlocks(tasks []types.Task) []Block {
	var blocks []Block
	for _, t := range tasks {
		start, end := t.ScheduledTime, t.End()
		travel := t.Travel()
		if travel > 0 {
			blocks = append(blocks, Block{
				Start: start.Add(-travel), End: start, Label: "Travel out",
				EventID: t.ID, Travel: true, FromCalendar: t.IsFromCalendar,
			})
		}
		blocks = append(blocks, Block{
			Start: start, End: end, Label: Label(t.Title),
			EventID: t.ID, FromCalendar: t.IsFromCalendar,
		})
		if travel > 0 {
			blocks = append(blocks, Block{
				Start: end, End: end.Add(travel), Label: "Travel back",
				EventID: t.ID, Travel: true, FromCalendar: t.IsFromCalendar,
			})
		}
	}
	return blocks
}

// mergeBlocks sorts blocks by start and merges overlaps. With touch set,
// blocks that merely touch are merged too. A merged block takes the label
// of the first non-travel block it absorbs.
func mergeBlocks(blocks []Block, touch bool) []Block {
	sorted := slices.Clone(blocks)
	slices.SortStableFunc(sorted, func(a, b Block) int { return a.Start.Compare(b.Start) })

	var out []Block
	for _, b := range sorted {
		n := len(out)
		if n == 0 || b.Start.After(out[n-1].End) || (!touch && b.Start.Equal(out[n-1].End)) {
			out = append(out, b)
			continue
		}
		last := &out[n-1]
		if b.End.After(last.End) {
			last.End = b.End
		}
		if last.Travel && !b.Travel {
			last.Label = b.Label
			last.Travel = false
			last.EventID = b.EventID
			last.FromCalendar = b.FromCalendar
		}
	}
	return out
}

type span struct{ start, end time.Time }

// gaps walks [workStart, workEnd) and returns the spaces between merged
// blocks, clipped to the work window.
func gaps(workStart, workEnd time.Time, merged []Block) []span {
	var out []span
	cursor := workStart
	for _, b := range merged {
		if !cursor.Before(workEnd) {
			return out
		}
		if b.Start.After(cursor) {
			end := b.Start
			if end.After(workEnd) {
				end = workEnd
			}
			out = append(out, span{cursor, end})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(workEnd) {
		out = append(out, span{cursor, workEnd})
	}
	return out
}

// SplitSlot cuts a free gap into chunks. The start is aligned up to the
// next quarter hour; a leading fragment runs to the next full hour, then
// hour-long chunks follow, and any piece shorter than MinFragmentMinutes is
// dropped.
func SplitSlot(start, end time.Time) []Slot {
	var out []Slot
	minFragment := MinFragmentMinutes * time.Minute
	chunk := ChunkMinutes * time.Minute

	cur := alignUp(start)
	nextHour := truncateHour(cur).Add(time.Hour)
	if !nextHour.After(end) && cur.Before(nextHour) {
		if nextHour.Sub(cur) >= minFragment {
			out = append(out, newSlot(cur, nextHour))
		}
		cur = nextHour
	}

	for end.Sub(cur) >= chunk {
		out = append(out, newSlot(cur, cur.Add(chunk)))
		cur = cur.Add(chunk)
	}

	if end.Sub(cur) >= minFragment {
		out = append(out, newSlot(cur, end))
	}
	return out
}

func newSlot(start, end time.Time) Slot {
	mins := int(end.Sub(start) / time.Minute)
	return Slot{
		Start:           start,
		End:             end,
		DurationMinutes: mins,
		Description:     fmt.Sprintf("%d min block", mins),
	}
}

func alignUp(t time.Time) time.Time {
	base := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()-t.Minute()%AlignMinutes, 0, 0, t.Location())
	if base.Equal(t) {
		return t
	}
	return base.Add(AlignMinutes * time.Minute)
}

// truncateHour works in t's location; time.Truncate would use UTC offsets.
func truncateHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}
