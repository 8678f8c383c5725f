package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/types"
)

const actionColumns = `id, scheduled_time, kind, event_id, message, status, created_at, processed_at`

func scanAction(row scanner) (types.AgendaAction, error) {
	var (
		a                  types.AgendaAction
		scheduled, created int64
		kind, status       string
		processed          sql.NullInt64
	)
	if err := row.Scan(&a.ID, &scheduled, &kind, &a.EventID, &a.Message, &status, &created, &processed); err != nil {
		return types.AgendaAction{}, err
	}
	k, err := types.ParseActionKind(kind)
	if err != nil {
		return types.AgendaAction{}, fmt.Errorf("action %s: %w", a.ID, err)
	}
	a.Kind = k
	a.ScheduledTime = time.UnixMilli(scheduled)
	a.Status = types.ActionStatus(status)
	a.CreatedAt = time.UnixMilli(created)
	a.ProcessedAt = fromNullMs(processed)
	return a, nil
}

// queryActions skips rows whose kind cannot be decoded so one bad row does
// not wedge the queue.
func (s *Store) queryActions(query string, args ...any) ([]types.AgendaAction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []types.AgendaAction
	for rows.Next() {
		a, err := scanAction(rows)
		if errors.Is(err, types.ErrUnknownAction) {
			logging.Warn("store", "skipping undecodable action: %v", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// InsertAction stores a new agenda action.
func (s *Store) InsertAction(a types.AgendaAction) error {
	if a.Status == "" {
		a.Status = types.ActionPending
	}
	_, err := s.db.Exec(`INSERT INTO agenda_actions (`+actionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, ms(a.ScheduledTime), a.Kind.Name(), a.EventID, a.Message, string(a.Status),
		ms(a.CreatedAt), nullMs(a.ProcessedAt))
	if err != nil {
		return fmt.Errorf("insert action %s: %w", a.ID, err)
	}
	return nil
}

// GetAction returns an action by id
func (s *Store) GetAction(id string) (types.AgendaAction, error) {
	a, err := scanAction(s.db.QueryRow(`SELECT `+actionColumns+` FROM agenda_actions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.AgendaAction{}, fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	return a, err
}

// PendingActionsDue returns PENDING actions scheduled at or before now,
// oldest first.
func (s *Store) PendingActionsDue(now time.Time) ([]types.AgendaAction, error) {
	return s.queryActions(`SELECT `+actionColumns+` FROM agenda_actions
		WHERE status = 'PENDING' AND scheduled_time <= ?
		ORDER BY scheduled_time, created_at`, ms(now))
}

// PendingActionsForEvent returns the PENDING actions that reference a task.
func (s *Store) PendingActionsForEvent(eventID string) ([]types.AgendaAction, error) {
	return s.queryActions(`SELECT `+actionColumns+` FROM agenda_actions
		WHERE status = 'PENDING' AND event_id = ?
		ORDER BY scheduled_time`, eventID)
}

// CancelPendingForEvent cancels every PENDING action of a task.
func (s *Store) CancelPendingForEvent(eventID string, now time.Time) (int64, error) {
	res, err := s.db.Exec(`UPDATE agenda_actions SET status = 'CANCELLED', processed_at = ?
		WHERE status = 'PENDING' AND event_id = ?`, ms(now), eventID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetActionStatus moves a PENDING or PROCESSING action forward. COMPLETED
// and CANCELLED actions are never touched again.
func (s *Store) SetActionStatus(id string, status types.ActionStatus, at time.Time) error {
	var processed sql.NullInt64
	if status == types.ActionCompleted || status == types.ActionCancelled {
		processed = sql.NullInt64{Int64: ms(at), Valid: true}
	}
	res, err := s.db.Exec(`UPDATE agenda_actions SET status = ?, processed_at = COALESCE(?, processed_at)
		WHERE id = ? AND status IN ('PENDING', 'PROCESSING')`, string(status), processed, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("action %s not updatable: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimAction moves a PENDING action to PROCESSING and stamps the claim
// time in processed_at. It reports false when the action is no longer
// PENDING, e.g. cancelled by a replan.
func (s *Store) ClaimAction(id string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE agenda_actions SET status = 'PROCESSING', processed_at = ?
		WHERE id = ? AND status = 'PENDING'`, ms(at), id)
	if err != nil {
		return false, fmt.Errorf("claim action %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseClaimsBefore returns PROCESSING actions claimed before t to
// PENDING. A claim that old belongs to a pass that died mid-dispatch.
func (s *Store) ReleaseClaimsBefore(t time.Time) (int64, error) {
	res, err := s.db.Exec(`UPDATE agenda_actions SET status = 'PENDING', processed_at = NULL
		WHERE status = 'PROCESSING' AND (processed_at IS NULL OR processed_at < ?)`, ms(t))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// NextPendingAction returns the earliest PENDING action, or nil.
func (s *Store) NextPendingAction() (*types.AgendaAction, error) {
	actions, err := s.queryActions(`SELECT ` + actionColumns + ` FROM agenda_actions
		WHERE status = 'PENDING' ORDER BY scheduled_time LIMIT 1`)
	if err != nil || len(actions) == 0 {
		return nil, err
	}
	return &actions[0], nil
}

// PendingActionOfKind finds a PENDING action of kind scheduled in [from, to).
func (s *Store) PendingActionOfKind(kind types.ActionKind, from, to time.Time) (*types.AgendaAction, error) {
	actions, err := s.queryActions(`SELECT `+actionColumns+` FROM agenda_actions
		WHERE status = 'PENDING' AND kind = ? AND scheduled_time >= ? AND scheduled_time < ?
		ORDER BY scheduled_time LIMIT 1`, kind.Name(), ms(from), ms(to))
	if err != nil || len(actions) == 0 {
		return nil, err
	}
	return &actions[0], nil
}

// DeleteCompletedBefore garbage-collects COMPLETED actions processed before t.
func (s *Store) DeleteCompletedBefore(t time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM agenda_actions WHERE status = 'COMPLETED' AND processed_at < ?`, ms(t))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListActions returns actions newest first; done ones only when all is set.
func (s *Store) ListActions(all bool, limit int) ([]types.AgendaAction, error) {
	if limit <= 0 {
		limit = 50
	}
	where := `WHERE status IN ('PENDING', 'PROCESSING')`
	if all {
		where = ""
	}
	return s.queryActions(`SELECT `+actionColumns+` FROM agenda_actions `+where+`
		ORDER BY scheduled_time DESC LIMIT ?`, limit)
}
