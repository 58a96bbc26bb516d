// ABOUTME: Server-side session store methods for the SQLite store
// ABOUTME: Session ids are distinct from auth tickets; data is an opaque JSON blob

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSession retrieves a valid (non-expired) session.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	query := `
		SELECT id, data, expires
		FROM sessions
		WHERE id = ? AND expires > ?
	`

	var rec SessionRecord
	var expiresStr string

	err := s.db.QueryRowContext(ctx, query, id, formatTime(time.Now())).Scan(
		&rec.ID,
		&rec.Data,
		&expiresStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	rec.Expires, err = parseTime("expires", expiresStr)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveSession inserts or replaces a session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	query := `
		INSERT INTO sessions (id, data, expires)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, expires = excluded.expires
	`

	if _, err := s.db.ExecContext(ctx, query, rec.ID, rec.Data, formatTime(rec.Expires)); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// DeleteSession deletes a session. Deleting a missing session is not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes all expired sessions.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted expired sessions", "count", rowsAffected)
	}
	return rowsAffected, nil
}
