// ABOUTME: User and group store methods for the SQLite store
// ABOUTME: Group memberships become "group:<pubid>" principals at verification time

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUser creates a new user. UserID is derived from username and authority when empty.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.Authority == "" {
		user.Authority = DefaultAuthority
	}
	if user.UserID == "" {
		user.UserID = UserID(user.Username, user.Authority)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO users (userid, username, authority, display_name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var passwordHash sql.NullString
	if user.PasswordHash != "" {
		passwordHash = sql.NullString{String: user.PasswordHash, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		user.UserID,
		user.Username,
		user.Authority,
		user.DisplayName,
		passwordHash,
		formatTime(user.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUserExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "userid", user.UserID)
	return nil
}

// GetUser retrieves a user by userid.
func (s *SQLiteStore) GetUser(ctx context.Context, userid string) (*User, error) {
	query := `
		SELECT userid, username, authority, display_name, password_hash, created_at
		FROM users
		WHERE userid = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, userid))
}

// GetUserByUsername retrieves a user by username within an authority.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username, authority string) (*User, error) {
	if authority == "" {
		authority = DefaultAuthority
	}

	query := `
		SELECT userid, username, authority, display_name, password_hash, created_at
		FROM users
		WHERE username = ? AND authority = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username, authority))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var passwordHash sql.NullString
	var createdAtStr string

	err := row.Scan(
		&user.UserID,
		&user.Username,
		&user.Authority,
		&user.DisplayName,
		&passwordHash,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.PasswordHash = passwordHash.String
	user.CreatedAt, err = parseTime("created_at", createdAtStr)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// UpdatePassword replaces the user's password hash. An empty hash disables password login.
func (s *SQLiteStore) UpdatePassword(ctx context.Context, userid, passwordHash string) error {
	var hash sql.NullString
	if passwordHash != "" {
		hash = sql.NullString{String: passwordHash, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE userid = ?`, hash, userid)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	s.logger.Info("updated password", "userid", userid)
	return nil
}

// DeleteUser removes a user. Memberships and auth tickets cascade.
func (s *SQLiteStore) DeleteUser(ctx context.Context, userid string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE userid = ?`, userid)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	s.logger.Info("deleted user", "userid", userid)
	return nil
}

// CreateGroup creates a new group.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *Group) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_groups (pubid, name, created_at) VALUES (?, ?, ?)`,
		group.PubID, group.Name, formatTime(group.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}

	s.logger.Info("created group", "pubid", group.PubID, "name", group.Name)
	return nil
}

// AddGroupMember adds a user to a group. Adding an existing member is a no-op.
func (s *SQLiteStore) AddGroupMember(ctx context.Context, pubid, userid string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM user_groups WHERE pubid = ?`, pubid).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGroupNotFound
	}
	if err != nil {
		return fmt.Errorf("querying group: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_members (pubid, userid, added_at) VALUES (?, ?, ?)`,
		pubid, userid, formatTime(time.Now()),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("inserting group member: %w", err)
	}
	return nil
}

// ListUserGroups returns the pubids of every group the user belongs to.
func (s *SQLiteStore) ListUserGroups(ctx context.Context, userid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pubid FROM group_members WHERE userid = ? ORDER BY added_at ASC, rowid ASC`,
		userid,
	)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pubids []string
	for rows.Next() {
		var pubid string
		if err := rows.Scan(&pubid); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		pubids = append(pubids, pubid)
	}
	return pubids, rows.Err()
}
