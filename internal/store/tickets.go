// ABOUTME: Auth ticket store methods for the SQLite store
// ABOUTME: Each statement touches a single ticket row so writes are atomic per ticket

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateTicket persists a new auth ticket. The owning user must exist.
func (s *SQLiteStore) CreateTicket(ctx context.Context, ticket *Ticket) error {
	query := `
		INSERT INTO auth_tickets (id, user_userid, created, updated, expires)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		ticket.ID,
		ticket.UserID,
		formatTime(ticket.Created),
		formatTime(ticket.Updated),
		formatTime(ticket.Expires),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("inserting auth ticket: %w", err)
	}

	s.logger.Debug("created auth ticket", "userid", ticket.UserID, "expires", ticket.Expires)
	return nil
}

// GetTicket retrieves an auth ticket by id, expired or not.
func (s *SQLiteStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	query := `
		SELECT id, user_userid, created, updated, expires
		FROM auth_tickets
		WHERE id = ?
	`

	var ticket Ticket
	var createdStr, updatedStr, expiresStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.UserID,
		&createdStr,
		&updatedStr,
		&expiresStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying auth ticket: %w", err)
	}

	if ticket.Created, err = parseTime("created", createdStr); err != nil {
		return nil, err
	}
	if ticket.Updated, err = parseTime("updated", updatedStr); err != nil {
		return nil, err
	}
	if ticket.Expires, err = parseTime("expires", expiresStr); err != nil {
		return nil, err
	}

	return &ticket, nil
}

// TouchTicket moves the ticket's updated and expires times.
func (s *SQLiteStore) TouchTicket(ctx context.Context, id string, updated, expires time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE auth_tickets SET updated = ?, expires = ? WHERE id = ?`,
		formatTime(updated), formatTime(expires), id,
	)
	if err != nil {
		return fmt.Errorf("updating auth ticket: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// DeleteTicket removes an auth ticket and reports whether it existed.
func (s *SQLiteStore) DeleteTicket(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_tickets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting auth ticket: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteExpiredTickets removes every ticket that expired at or before now.
func (s *SQLiteStore) DeleteExpiredTickets(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_tickets WHERE expires <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired auth tickets: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted expired auth tickets", "count", rowsAffected)
	}
	return rowsAffected, nil
}

// DeleteUserTickets removes every ticket owned by userid.
func (s *SQLiteStore) DeleteUserTickets(ctx context.Context, userid string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_tickets WHERE user_userid = ?`, userid)
	if err != nil {
		return 0, fmt.Errorf("deleting user auth tickets: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected, nil
}
