// ABOUTME: SQLite implementation of agentgate persistence using modernc.org/sqlite
// ABOUTME: Opens the database, applies pragmas, and creates the schema

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is RFC 3339 with a fixed nine-digit fraction. The fixed
// width keeps stored UTC timestamps lexicographically sortable, so SQL
// text comparisons against expires_at are exact to the nanosecond.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders t for storage in the fixed sortable layout.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime reads a stored timestamp back.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// SQLiteStore implements agentgate persistence using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Writers wait for the lock rather than failing fast; consumption
	// check-and-sets and rate window transactions contend on it.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS challenges (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			prefix      TEXT NOT NULL,
			difficulty  INTEGER NOT NULL,
			algorithm   TEXT NOT NULL DEFAULT 'sha256',
			issued_at   TEXT NOT NULL,
			expires_at  TEXT NOT NULL,
			consumed    INTEGER NOT NULL DEFAULT 0,
			consumed_at TEXT,

			CHECK (kind IN ('register', 'action'))
		);

		CREATE INDEX IF NOT EXISTS idx_challenges_expires ON challenges(expires_at);

		CREATE TABLE IF NOT EXISTS principals (
			id             TEXT PRIMARY KEY,
			api_key_hash   TEXT NOT NULL UNIQUE,
			username       TEXT NOT NULL,
			description    TEXT,
			is_active      INTEGER NOT NULL DEFAULT 1,
			total_posts    INTEGER NOT NULL DEFAULT 0,
			total_comments INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			last_used_at   TEXT
		);

		-- Uniqueness is case-insensitive and survives deactivation:
		-- usernames are never reused.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_username
			ON principals(lower(username));

		CREATE TABLE IF NOT EXISTS action_tokens (
			token_hash   TEXT PRIMARY KEY,
			principal_id TEXT NOT NULL REFERENCES principals(id),
			issued_at    TEXT NOT NULL,
			expires_at   TEXT NOT NULL,
			consumed     INTEGER NOT NULL DEFAULT 0,
			consumed_at  TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_tokens_principal ON action_tokens(principal_id);
		CREATE INDEX IF NOT EXISTS idx_tokens_expires ON action_tokens(expires_at);

		CREATE TABLE IF NOT EXISTS rate_windows (
			principal_id TEXT NOT NULL,
			action       TEXT NOT NULL,
			window_kind  TEXT NOT NULL,
			window_start TEXT NOT NULL,
			count        INTEGER NOT NULL DEFAULT 0,

			PRIMARY KEY (principal_id, action, window_kind),
			CHECK (action IN ('post', 'comment')),
			CHECK (window_kind IN ('hourly', 'daily'))
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string value
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
