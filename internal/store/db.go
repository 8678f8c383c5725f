// Package store persists tasks, agenda actions, notifications and the
// conversation log in a single SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vthunder/chapelotas/internal/logging"
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite connection
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database under statePath.
func Open(statePath string) (*Store, error) {
	dbPath := filepath.Join(statePath, "chapelotas.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	logging.Debug("store", "opened %s", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		calendar_event_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'event',
		scheduled_time INTEGER NOT NULL,
		end_time INTEGER,
		travel_minutes INTEGER NOT NULL DEFAULT 0,
		location_context TEXT NOT NULL DEFAULT '',
		is_critical INTEGER NOT NULL DEFAULT 0,
		is_all_day INTEGER NOT NULL DEFAULT 0,
		is_recurring INTEGER NOT NULL DEFAULT 0,
		is_from_calendar INTEGER NOT NULL DEFAULT 0,
		is_acknowledged INTEGER NOT NULL DEFAULT 0,
		is_started INTEGER NOT NULL DEFAULT 0,
		is_finished INTEGER NOT NULL DEFAULT 0,
		is_cancelled INTEGER NOT NULL DEFAULT 0,
		reminder_count INTEGER NOT NULL DEFAULT 0,
		notification_count INTEGER NOT NULL DEFAULT 0,
		next_reminder_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_next ON tasks(next_reminder_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_scheduled ON tasks(scheduled_time);
	CREATE INDEX IF NOT EXISTS idx_tasks_calendar ON tasks(calendar_event_id);

	CREATE TABLE IF NOT EXISTS agenda_actions (
		id TEXT PRIMARY KEY,
		scheduled_time INTEGER NOT NULL,
		kind TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at INTEGER NOT NULL,
		processed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_actions_pending ON agenda_actions(status, scheduled_time);
	CREATE INDEX IF NOT EXISTS idx_actions_event ON agenda_actions(event_id, status);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'normal',
		channel TEXT NOT NULL DEFAULT 'general',
		scheduled_time INTEGER NOT NULL,
		snoozed_until INTEGER,
		snoozed_at INTEGER,
		snooze_count INTEGER NOT NULL DEFAULT 0,
		executed INTEGER NOT NULL DEFAULT 0,
		dismissed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notification_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		notification_id TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		response_seconds INTEGER NOT NULL DEFAULT 0,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notification_log ON notification_log(notification_id);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'active',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_thread ON conversation_log(thread_id, at);
	CREATE INDEX IF NOT EXISTS idx_conversation_role ON conversation_log(role, at);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return err
	}

	// v2: at-least-once delivery dedupe for user responses
	if version < 2 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS handled_deliveries (
				key TEXT PRIMARY KEY,
				at INTEGER NOT NULL
			)`); err != nil {
			return fmt.Errorf("v2: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (2)"); err != nil {
			return fmt.Errorf("v2: %w", err)
		}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func nullMs(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMs(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
