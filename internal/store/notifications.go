package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vthunder/chapelotas/internal/types"
)

const notificationColumns = `id, event_id, title, message, priority, channel, scheduled_time,
	snoozed_until, snoozed_at, snooze_count, executed, dismissed, created_at`

func scanNotification(row scanner) (types.Notification, error) {
	var (
		n                    types.Notification
		priority             string
		scheduled, created   int64
		snoozedUntil, snzdAt sql.NullInt64
	)
	err := row.Scan(&n.ID, &n.EventID, &n.Title, &n.Message, &priority, &n.Channel, &scheduled,
		&snoozedUntil, &snzdAt, &n.SnoozeCount, &n.Executed, &n.Dismissed, &created)
	if err != nil {
		return types.Notification{}, err
	}
	n.Priority = types.Priority(priority)
	n.ScheduledTime = time.UnixMilli(scheduled)
	n.SnoozedUntil = fromNullMs(snoozedUntil)
	n.SnoozedAt = fromNullMs(snzdAt)
	n.CreatedAt = time.UnixMilli(created)
	return n, nil
}

// InsertNotification records a dispatched notification.
func (s *Store) InsertNotification(n types.Notification) error {
	if n.Priority == "" {
		n.Priority = types.PriorityNormal
	}
	if n.Channel == "" {
		n.Channel = types.ChannelGeneral
	}
	_, err := s.db.Exec(`INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.EventID, n.Title, n.Message, string(n.Priority), n.Channel, ms(n.ScheduledTime),
		nullMs(n.SnoozedUntil), nullMs(n.SnoozedAt), n.SnoozeCount,
		boolInt(n.Executed), boolInt(n.Dismissed), ms(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification %s: %w", n.ID, err)
	}
	return nil
}

// GetNotification returns a notification by id
func (s *Store) GetNotification(id string) (types.Notification, error) {
	n, err := scanNotification(s.db.QueryRow(`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Notification{}, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n, err
}

// UpdateNotification writes back the mutable fields.
func (s *Store) UpdateNotification(n types.Notification) error {
	res, err := s.db.Exec(`UPDATE notifications SET
		scheduled_time = ?, snoozed_until = ?, snoozed_at = ?, snooze_count = ?, executed = ?, dismissed = ?
		WHERE id = ?`,
		ms(n.ScheduledTime), nullMs(n.SnoozedUntil), nullMs(n.SnoozedAt), n.SnoozeCount,
		boolInt(n.Executed), boolInt(n.Dismissed), n.ID)
	if err != nil {
		return err
	}
	if c, _ := res.RowsAffected(); c == 0 {
		return fmt.Errorf("notification %s: %w", n.ID, ErrNotFound)
	}
	return nil
}

// SnoozedDue returns unresolved notifications whose snooze has expired.
func (s *Store) SnoozedDue(now time.Time) ([]types.Notification, error) {
	rows, err := s.db.Query(`SELECT `+notificationColumns+` FROM notifications
		WHERE snoozed_until IS NOT NULL AND snoozed_until <= ? AND executed = 0 AND dismissed = 0
		ORDER BY snoozed_until`, ms(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// NextSnoozeAt returns the earliest pending snooze expiry, or nil.
func (s *Store) NextSnoozeAt() (*time.Time, error) {
	var v sql.NullInt64
	err := s.db.QueryRow(`SELECT MIN(snoozed_until) FROM notifications
		WHERE snoozed_until IS NOT NULL AND executed = 0 AND dismissed = 0`).Scan(&v)
	if err != nil {
		return nil, err
	}
	return fromNullMs(v), nil
}

// LatestOpenNotification returns the most recent notification the user has
// not resolved.
func (s *Store) LatestOpenNotification() (types.Notification, error) {
	n, err := scanNotification(s.db.QueryRow(`SELECT ` + notificationColumns + ` FROM notifications
		WHERE executed = 0 AND dismissed = 0 ORDER BY scheduled_time DESC, created_at DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Notification{}, fmt.Errorf("open notification: %w", ErrNotFound)
	}
	return n, err
}

// RecentNotifications returns the latest notifications, newest first.
func (s *Store) RecentNotifications(limit int) ([]types.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+notificationColumns+` FROM notifications
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
