package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vthunder/chapelotas/internal/types"
)

const taskColumns = `id, calendar_event_id, title, description, location, kind,
	scheduled_time, end_time, travel_minutes, location_context,
	is_critical, is_all_day, is_recurring, is_from_calendar,
	is_acknowledged, is_started, is_finished, is_cancelled,
	reminder_count, notification_count, next_reminder_at, created_at, updated_at`

const activeTask = `is_finished = 0 AND is_cancelled = 0`

func scanTask(row scanner) (types.Task, error) {
	var (
		t                 types.Task
		kind, lc          string
		start, created    int64
		updated           int64
		end, nextReminder sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.CalendarEventID, &t.Title, &t.Description, &t.Location, &kind,
		&start, &end, &t.TravelTimeMinutes, &lc,
		&t.IsCritical, &t.IsAllDay, &t.IsRecurring, &t.IsFromCalendar,
		&t.IsAcknowledged, &t.IsStarted, &t.IsFinished, &t.IsCancelled,
		&t.ReminderCount, &t.NotificationCount, &nextReminder, &created, &updated)
	if err != nil {
		return types.Task{}, err
	}
	t.Kind = types.TaskKind(kind)
	t.LocationContext = types.LocationContext(lc)
	t.ScheduledTime = time.UnixMilli(start)
	t.EndTime = fromNullMs(end)
	t.NextReminderAt = fromNullMs(nextReminder)
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	return t, nil
}

func (s *Store) queryTasks(query string, args ...any) ([]types.Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpsertTask inserts or replaces a task. CreatedAt of an existing row is kept.
func (s *Store) UpsertTask(t types.Task) error {
	if t.Kind == "" {
		t.Kind = types.KindEvent
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			calendar_event_id = excluded.calendar_event_id,
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			kind = excluded.kind,
			scheduled_time = excluded.scheduled_time,
			end_time = excluded.end_time,
			travel_minutes = excluded.travel_minutes,
			location_context = excluded.location_context,
			is_critical = excluded.is_critical,
			is_all_day = excluded.is_all_day,
			is_recurring = excluded.is_recurring,
			is_from_calendar = excluded.is_from_calendar,
			is_acknowledged = excluded.is_acknowledged,
			is_started = excluded.is_started,
			is_finished = excluded.is_finished,
			is_cancelled = excluded.is_cancelled,
			reminder_count = excluded.reminder_count,
			notification_count = excluded.notification_count,
			next_reminder_at = excluded.next_reminder_at,
			updated_at = excluded.updated_at`,
		t.ID, t.CalendarEventID, t.Title, t.Description, t.Location, string(t.Kind),
		ms(t.ScheduledTime), nullMs(t.EndTime), t.TravelTimeMinutes, string(t.LocationContext),
		boolInt(t.IsCritical), boolInt(t.IsAllDay), boolInt(t.IsRecurring), boolInt(t.IsFromCalendar),
		boolInt(t.IsAcknowledged), boolInt(t.IsStarted), boolInt(t.IsFinished), boolInt(t.IsCancelled),
		t.ReminderCount, t.NotificationCount, nullMs(t.NextReminderAt), ms(t.CreatedAt), ms(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask returns a task by id
func (s *Store) GetTask(id string) (types.Task, error) {
	t, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// TaskByCalendarID finds the task synced from a calendar event
func (s *Store) TaskByCalendarID(calendarID string) (types.Task, error) {
	t, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE calendar_event_id = ? LIMIT 1`, calendarID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Task{}, fmt.Errorf("calendar event %s: %w", calendarID, ErrNotFound)
	}
	return t, err
}

// ActiveTasks returns unfinished, uncancelled tasks ordered by start.
func (s *Store) ActiveTasks() ([]types.Task, error) {
	return s.queryTasks(`SELECT ` + taskColumns + ` FROM tasks WHERE ` + activeTask + ` ORDER BY scheduled_time`)
}

// TasksDueForReminder returns active tasks whose next reminder is unset or
// not after now.
func (s *Store) TasksDueForReminder(now time.Time) ([]types.Task, error) {
	return s.queryTasks(`SELECT `+taskColumns+` FROM tasks
		WHERE `+activeTask+` AND (next_reminder_at IS NULL OR next_reminder_at <= ?)
		ORDER BY scheduled_time`, ms(now))
}

// TasksBetween returns uncancelled tasks starting in [from, to).
func (s *Store) TasksBetween(from, to time.Time) ([]types.Task, error) {
	return s.queryTasks(`SELECT `+taskColumns+` FROM tasks
		WHERE is_cancelled = 0 AND scheduled_time >= ? AND scheduled_time < ?
		ORDER BY scheduled_time`, ms(from), ms(to))
}

// SetNextReminder persists the reminder bookkeeping of one engine step.
// updated_at is left alone: it tracks edits, and idle detection reads it.
func (s *Store) SetNextReminder(id string, next *time.Time, reminderCount int) error {
	_, err := s.db.Exec(`UPDATE tasks SET next_reminder_at = ?, reminder_count = ? WHERE id = ?`,
		nullMs(next), reminderCount, id)
	return err
}

// SetAcknowledged marks the user as aware of the task. The next reminder is
// cleared so the engine recomputes it with the acknowledged cadence.
func (s *Store) SetAcknowledged(id string, ack bool, now time.Time) error {
	return s.updateOne(`UPDATE tasks SET is_acknowledged = ?, next_reminder_at = NULL, updated_at = ? WHERE id = ?`,
		id, boolInt(ack), ms(now), id)
}

// SetFinished finishes or reopens a task. A finished task has no next reminder.
func (s *Store) SetFinished(id string, finished bool, now time.Time) error {
	return s.updateOne(`UPDATE tasks SET is_finished = ?, next_reminder_at = NULL, updated_at = ? WHERE id = ?`,
		id, boolInt(finished), ms(now), id)
}

// SetStarted records to-do progress
func (s *Store) SetStarted(id string, started bool, now time.Time) error {
	return s.updateOne(`UPDATE tasks SET is_started = ?, updated_at = ? WHERE id = ?`,
		id, boolInt(started), ms(now), id)
}

// IncrementNotificationCount bumps the per-task notification counter.
func (s *Store) IncrementNotificationCount(id string, now time.Time) error {
	return s.updateOne(`UPDATE tasks SET notification_count = notification_count + 1, updated_at = ? WHERE id = ?`,
		id, ms(now), id)
}

// CancelTask soft-deletes a task; calendar tasks are never removed.
func (s *Store) CancelTask(id string, now time.Time) error {
	return s.updateOne(`UPDATE tasks SET is_cancelled = 1, next_reminder_at = NULL, updated_at = ? WHERE id = ?`,
		id, ms(now), id)
}

// DeleteTask removes a manually created to-do.
func (s *Store) DeleteTask(id string) error {
	t, err := s.GetTask(id)
	if err != nil {
		return err
	}
	if t.IsFromCalendar {
		return fmt.Errorf("task %s comes from the calendar and can only be cancelled", id)
	}
	_, err = s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// NextReminderAt returns the earliest pending reminder over active tasks.
func (s *Store) NextReminderAt() (*time.Time, error) {
	var v sql.NullInt64
	err := s.db.QueryRow(`SELECT MIN(next_reminder_at) FROM tasks WHERE ` + activeTask).Scan(&v)
	if err != nil {
		return nil, err
	}
	return fromNullMs(v), nil
}

// LastTaskUpdate returns the most recent task modification time.
func (s *Store) LastTaskUpdate() (*time.Time, error) {
	var v sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(updated_at) FROM tasks`).Scan(&v); err != nil {
		return nil, err
	}
	return fromNullMs(v), nil
}

func (s *Store) updateOne(query, id string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}
