package store

import (
	"database/sql"
	"time"

	"github.com/vthunder/chapelotas/internal/types"
)

// Thread statuses
const (
	ThreadActive    = "active"
	ThreadCompleted = "completed"
	ThreadArchived  = "archived"
)

// AppendResponse logs a user response to a notification.
func (s *Store) AppendResponse(e types.ResponseEntry) error {
	_, err := s.db.Exec(`INSERT INTO notification_log (notification_id, event_id, action, response_seconds, at)
		VALUES (?, ?, ?, ?, ?)`, e.NotificationID, e.EventID, string(e.Action), e.ResponseSeconds, ms(e.At))
	return err
}

// ResponsesFor returns the response log of one notification, oldest first.
func (s *Store) ResponsesFor(notificationID string) ([]types.ResponseEntry, error) {
	rows, err := s.db.Query(`SELECT notification_id, event_id, action, response_seconds, at
		FROM notification_log WHERE notification_id = ? ORDER BY id`, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ResponseEntry
	for rows.Next() {
		var (
			e      types.ResponseEntry
			action string
			at     int64
		)
		if err := rows.Scan(&e.NotificationID, &e.EventID, &action, &e.ResponseSeconds, &at); err != nil {
			return nil, err
		}
		e.Action = types.UserAction(action)
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendConversation adds a line to a thread, creating or reactivating it.
func (s *Store) AppendConversation(e types.ConversationEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO threads (id, status, updated_at) VALUES (?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET status = 'active', updated_at = excluded.updated_at`,
		e.ThreadID, ms(e.At)); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO conversation_log (thread_id, role, content, at) VALUES (?, ?, ?, ?)`,
		e.ThreadID, e.Role, e.Content, ms(e.At)); err != nil {
		return err
	}
	return tx.Commit()
}

// Conversation returns the last limit lines of a thread, oldest first.
func (s *Store) Conversation(threadID string, limit int) ([]types.ConversationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT thread_id, role, content, at FROM (
			SELECT id, thread_id, role, content, at FROM conversation_log
			WHERE thread_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ConversationEntry
	for rows.Next() {
		var (
			e  types.ConversationEntry
			at int64
		)
		if err := rows.Scan(&e.ThreadID, &e.Role, &e.Content, &at); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastUserMessageAt returns the time of the latest user-authored line.
func (s *Store) LastUserMessageAt() (*time.Time, error) {
	var v sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(at) FROM conversation_log WHERE role = ?`, types.RoleUser).Scan(&v); err != nil {
		return nil, err
	}
	return fromNullMs(v), nil
}

// CompleteThread marks a thread finished so cleanup can archive it later.
func (s *Store) CompleteThread(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE threads SET status = 'completed', updated_at = ? WHERE id = ?`, ms(at), id)
	return err
}

// ArchiveThreadsBefore archives completed threads last touched before t.
func (s *Store) ArchiveThreadsBefore(t time.Time) (int64, error) {
	res, err := s.db.Exec(`UPDATE threads SET status = 'archived' WHERE status = 'completed' AND updated_at < ?`, ms(t))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ThreadStatus returns the status of a thread, or "" when unknown.
func (s *Store) ThreadStatus(id string) (string, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM threads WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return status, err
}
