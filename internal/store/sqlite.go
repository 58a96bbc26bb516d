// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user, group, ticket, and session persistence with automatic schema creation

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

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

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

	// Pragmas in the DSN apply to every pooled connection, not just the first
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
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
		CREATE TABLE IF NOT EXISTS users (
			userid        TEXT PRIMARY KEY,
			username      TEXT NOT NULL,
			authority     TEXT NOT NULL,
			display_name  TEXT NOT NULL DEFAULT '',
			password_hash TEXT,
			created_at    TEXT NOT NULL,

			UNIQUE(username, authority)
		);

		CREATE TABLE IF NOT EXISTS user_groups (
			pubid      TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS group_members (
			pubid    TEXT NOT NULL REFERENCES user_groups(pubid) ON DELETE CASCADE,
			userid   TEXT NOT NULL REFERENCES users(userid) ON DELETE CASCADE,
			added_at TEXT NOT NULL,

			PRIMARY KEY (pubid, userid)
		);

		CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(userid);

		-- Auth tickets (one row per logged-in session)
		CREATE TABLE IF NOT EXISTS auth_tickets (
			id          TEXT PRIMARY KEY,
			user_userid TEXT NOT NULL REFERENCES users(userid) ON DELETE CASCADE,
			created     TEXT NOT NULL,
			updated     TEXT NOT NULL,
			expires     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_auth_tickets_user ON auth_tickets(user_userid);
		CREATE INDEX IF NOT EXISTS idx_auth_tickets_expires ON auth_tickets(expires);

		-- Server-side sessions (cookie carries only the id)
		CREATE TABLE IF NOT EXISTS sessions (
			id      TEXT PRIMARY KEY,
			data    BLOB NOT NULL,
			expires TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// isUniqueConstraintError checks if an error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	// SQLite returns "UNIQUE constraint failed" in the error message
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "unique constraint"))
}

// isForeignKeyError checks if an error is a foreign key violation.
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
