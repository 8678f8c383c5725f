package freetime

import (
	"strings"
	"time"
	"unicode"

	"github.com/tsawler/prose/v3"

	"github.com/vthunder/chapelotas/internal/types"
)

// BlockStatus summarises one period of the day
type BlockStatus string

const (
	HasSlots         BlockStatus = "HAS_SLOTS"
	FullyBooked      BlockStatus = "FULLY_BOOKED"
	NoUsableSlots    BlockStatus = "NO_USABLE_SLOTS" // free time exists but every gap is too short
	OutsideWorkHours BlockStatus = "OUTSIDE_WORK_HOURS"
	InThePast        BlockStatus = "IN_THE_PAST"
)

// Item is one entry of the day timeline: a busy block or a free chunk.
type Item struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Free         bool      `json:"free"`
	Label        string    `json:"label"`
	EventID      string    `json:"event_id,omitempty"`
	FromCalendar bool      `json:"from_calendar,omitempty"`
}

// Period is a named part of the day
type Period struct {
	Name   string      `json:"name"`
	Start  time.Time   `json:"start"`
	End    time.Time   `json:"end"`
	Status BlockStatus `json:"status"`
	Items  []Item      `json:"items,omitempty"`
}

// Day is the full schedule view for one date.
type Day struct {
	Date    time.Time `json:"date"`
	Items   []Item    `json:"items"`
	Periods []Period  `json:"periods"`
}

// Schedule lays out day: busy blocks with their travel legs, free chunks
// inside work hours, and the five periods bounded by the lunch and dinner
// windows.
func Schedule(day time.Time, s types.Settings, tasks []types.Task, now time.Time) Day {
	workStart := s.WorkStart().On(day)
	workEnd := s.WorkEnd().On(day)

	var todays []types.Task
	for _, t := range tasks {
		if !t.Active() || t.IsAllDay || !types.SameDay(t.ScheduledTime, day) {
			continue
		}
		todays = append(todays, t)
	}

	items := timeline(workStart, workEnd, mergeBlocks(busyBlocks(todays), false))

	bounds := []struct {
		name       string
		start, end time.Time
	}{
		{"morning", workStart, s.LunchStart().On(day)},
		{"lunch", s.LunchStart().On(day), s.LunchEnd().On(day)},
		{"afternoon", s.LunchEnd().On(day), s.DinnerStart().On(day)},
		{"dinner", s.DinnerStart().On(day), s.DinnerEnd().On(day)},
		{"night", s.DinnerEnd().On(day), workEnd},
	}

	out := Day{Date: types.StartOfDay(day), Items: items}
	for _, b := range bounds {
		p := periodFor(day, b.start, b.end, items, now)
		p.Name = b.name
		out.Periods = append(out.Periods, p)
	}
	return out
}

func timeline(workStart, workEnd time.Time, blocks []Block) []Item {
	items := []Item{}
	free := func(from, to time.Time) {
		for _, sl := range SplitSlot(from, to) {
			items = append(items, Item{Start: sl.Start, End: sl.End, Free: true, Label: sl.Description})
		}
	}

	cursor := workStart
	for _, b := range blocks {
		if b.Start.After(cursor) && cursor.Before(workEnd) {
			end := b.Start
			if end.After(workEnd) {
				end = workEnd
			}
			free(cursor, end)
		}
		items = append(items, Item{
			Start: b.Start, End: b.End, Label: b.Label,
			EventID: b.EventID, FromCalendar: b.FromCalendar,
		})
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(workEnd) {
		free(cursor, workEnd)
	}
	return items
}

func periodFor(day, start, end time.Time, items []Item, now time.Time) Period {
	p := Period{Start: start, End: end}
	today := types.SameDay(day, now)
	if today && end.Before(now) {
		p.Status = InThePast
		return p
	}
	if !start.Before(end) {
		p.Status = OutsideWorkHours
		return p
	}

	var hasFree, hasBusy bool
	for _, it := range items {
		if !it.Start.Before(end) || !it.End.After(start) {
			continue
		}
		if today && !it.End.After(now) {
			continue
		}
		p.Items = append(p.Items, it)
		if it.Free {
			hasFree = true
		} else {
			hasBusy = true
		}
	}

	switch {
	case hasFree:
		p.Status = HasSlots
	case hasBusy:
		p.Status = FullyBooked
	default:
		p.Status = NoUsableSlots
	}
	return p
}

// Label shortens a task title to its first three words for busy blocks.
func Label(title string) string {
	var words []string
	if doc, err := prose.NewDocument(title); err == nil {
		for _, tok := range doc.Tokens() {
			if hasWordRune(tok.Text) {
				words = append(words, tok.Text)
			}
		}
	} else {
		words = strings.Fields(title)
	}
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
