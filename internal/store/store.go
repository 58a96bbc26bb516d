// ABOUTME: Store interfaces and data types for ticketd persistence
// ABOUTME: Defines users, groups, auth tickets, and server-side session records

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned when a user doesn't exist.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when creating a user whose userid or username is taken.
var ErrUserExists = errors.New("user already exists")

// ErrGroupNotFound is returned when a group doesn't exist.
var ErrGroupNotFound = errors.New("group not found")

// ErrTicketNotFound is returned when an auth ticket doesn't exist.
var ErrTicketNotFound = errors.New("auth ticket not found")

// ErrSessionNotFound is returned when a session doesn't exist or is expired.
var ErrSessionNotFound = errors.New("session not found")

// DefaultAuthority is the authority used for users created without one.
const DefaultAuthority = "localhost"

// User is an account that can hold auth tickets.
type User struct {
	UserID       string // "acct:<username>@<authority>"
	Username     string
	Authority    string
	DisplayName  string
	PasswordHash string // bcrypt hash, empty if password login is disabled
	CreatedAt    time.Time
}

// Group is a named collection of users. Members receive a "group:<pubid>" principal.
type Group struct {
	PubID     string
	Name      string
	CreatedAt time.Time
}

// Ticket is an auth ticket binding a random token to exactly one user.
type Ticket struct {
	ID      string
	UserID  string
	Created time.Time
	Updated time.Time
	Expires time.Time
}

// Expired reports whether the ticket is no longer valid at now.
func (t *Ticket) Expired(now time.Time) bool {
	return !now.Before(t.Expires)
}

// SessionRecord is the persisted form of a server-side session.
type SessionRecord struct {
	ID      string
	Data    []byte // JSON-encoded key/value state
	Expires time.Time
}

// UserID builds the canonical userid for a username within an authority.
func UserID(username, authority string) string {
	if authority == "" {
		authority = DefaultAuthority
	}
	return fmt.Sprintf("acct:%s@%s", username, authority)
}

// UserStore holds accounts and group memberships.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userid string) (*User, error)
	GetUserByUsername(ctx context.Context, username, authority string) (*User, error)
	// UpdatePassword replaces the user's bcrypt hash.
	UpdatePassword(ctx context.Context, userid, passwordHash string) error
	// DeleteUser removes the user with their memberships and any tickets held in the same store.
	DeleteUser(ctx context.Context, userid string) error
	CreateGroup(ctx context.Context, group *Group) error
	AddGroupMember(ctx context.Context, pubid, userid string) error
	// ListUserGroups returns group pubids in the order memberships were added.
	ListUserGroups(ctx context.Context, userid string) ([]string, error)
}

// TicketStore holds auth tickets. Writes are atomic per ticket.
type TicketStore interface {
	CreateTicket(ctx context.Context, ticket *Ticket) error
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	// TouchTicket moves a ticket's expiry and updated time. Returns ErrTicketNotFound
	// if the ticket is gone.
	TouchTicket(ctx context.Context, id string, updated, expires time.Time) error
	// DeleteTicket removes a ticket and reports whether it existed.
	DeleteTicket(ctx context.Context, id string) (bool, error)
	DeleteExpiredTickets(ctx context.Context, now time.Time) (int64, error)
	// DeleteUserTickets removes every ticket owned by userid.
	DeleteUserTickets(ctx context.Context, userid string) (int64, error)
}

// SessionStore holds server-side session records.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	SaveSession(ctx context.Context, rec *SessionRecord) error
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Store combines every persistence concern ticketd needs.
type Store interface {
	UserStore
	TicketStore
	SessionStore
	Close() error
}
