package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vthunder/chapelotas/internal/types"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
}

func TestClassify(t *testing.T) {
	end := at(15, 0)
	explicit := types.Task{ScheduledTime: at(14, 0), EndTime: &end}
	implicit := types.Task{ScheduledTime: at(14, 0)}
	short := at(14, 30)
	halfHour := types.Task{ScheduledTime: at(14, 0), EndTime: &short}

	tests := []struct {
		name string
		task types.Task
		now  time.Time
		want State
	}{
		{"well before", explicit, at(13, 45), Future},
		{"one second before", explicit, at(14, 0).Add(-time.Second), Future},
		{"at start", explicit, at(14, 0), Present},
		{"middle", explicit, at(14, 30), Present},
		{"one second before end", explicit, end.Add(-time.Second), Present},
		{"at end", explicit, end, Past},
		{"after end", explicit, at(15, 3), Past},
		{"default end still running", implicit, at(14, 59), Present},
		{"default end reached", implicit, at(15, 0), Past},
		{"explicit short end", halfHour, at(14, 45), Past},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.task, tt.now))
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	end := at(10, 20)
	task := types.Task{ScheduledTime: at(10, 0), EndTime: &end}
	counts := map[State]int{}
	for now := at(9, 0); now.Before(at(11, 0)); now = now.Add(time.Minute) {
		s := Classify(task, now)
		counts[s]++
		switch {
		case now.Before(task.ScheduledTime):
			assert.Equal(t, Future, s, now)
		case now.Before(end):
			assert.Equal(t, Present, s, now)
		default:
			assert.Equal(t, Past, s, now)
		}
	}
	assert.Equal(t, 60, counts[Future])
	assert.Equal(t, 20, counts[Present])
	assert.Equal(t, 40, counts[Past])
}

func TestMinutesUntil(t *testing.T) {
	task := types.Task{ScheduledTime: at(14, 0)}
	assert.Equal(t, 15, MinutesUntil(task, at(13, 45)))
	assert.Equal(t, -3, MinutesUntil(task, at(14, 3)))
}
