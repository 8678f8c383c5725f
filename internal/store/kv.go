package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Well-known kv keys
const (
	KeyNextAlarmAt      = "next_alarm_at"
	KeyFinalAlarmTarget = "final_alarm_target"
	KeyLastPassAt       = "last_pass_at"
)

// SetTime stores a timestamp under key
func (s *Store) SetTime(key string, t time.Time) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, strconv.FormatInt(ms(t), 10))
	return err
}

// GetTime reads a timestamp; nil when the key is unset.
func (s *Store) GetTime(key string) (*time.Time, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("kv %s: %w", key, err)
	}
	t := time.UnixMilli(v)
	return &t, nil
}

// DeleteKey removes a kv entry
func (s *Store) DeleteKey(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// MarkDelivery records a delivery key and reports whether it was new.
func (s *Store) MarkDelivery(key string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO handled_deliveries (key, at) VALUES (?, ?)`, key, ms(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
