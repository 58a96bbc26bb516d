// ABOUTME: Collaborator contracts consumed by the authentication policy
// ABOUTME: Ticket sources carry principal+ticket pairs; backends verify, issue, and revoke tickets

package auth

import (
	"context"
	"net/http"
)

// Header is a single response header produced by a TicketSource.
type Header struct {
	Name  string
	Value string
}

// TicketSource extracts a (principal, ticket) pair from a request and produces
// the response headers that store or clear it. Implementations are request-scoped.
type TicketSource interface {
	// Value returns the pair carried by the request. Either may be empty.
	Value() (principal, ticket string)
	// HeadersRemember returns headers that make the client present the pair on later requests.
	HeadersRemember(principal, ticket string) ([]Header, error)
	// HeadersForget returns headers that clear the stored pair.
	HeadersForget() []Header
	// Vary lists the request headers the pair is read from.
	Vary() []string
}

// VerifyState describes how far ticket verification has progressed for a request.
type VerifyState int

const (
	// StateUnverified means VerifyTicket has not been called yet.
	StateUnverified VerifyState = iota
	// StateVerified means a ticket was verified and UserID is set.
	StateVerified
	// StateFailed means verification ran and no user was resolved.
	StateFailed
)

func (s VerifyState) String() string {
	switch s {
	case StateUnverified:
		return "unverified"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Verification is the result of Backend.UserID.
type Verification struct {
	State  VerifyState
	UserID string // set only when State is StateVerified
}

// Backend holds the per-request verification state and talks to the ticket store.
// Implementations must be request-scoped.
type Backend interface {
	UserID() Verification
	// Groups returns additional principals for the verified user. The userid itself
	// need not be included.
	Groups(ctx context.Context) ([]string, error)
	// VerifyTicket checks the pair and moves the backend out of StateUnverified,
	// even when both values are empty.
	VerifyTicket(ctx context.Context, principal, ticket string) error
	// AddTicket records a new ticket for principal. It must fail when the principal
	// does not exist or the ticket cannot be stored.
	AddTicket(ctx context.Context, principal, ticket string) error
	// RemoveTicket deletes a ticket and reports whether one was removed.
	RemoveTicket(ctx context.Context, ticket string) (bool, error)
}

// Session is a server-side key/value session distinct from the auth ticket.
type Session interface {
	// Invalidate discards the session's data and identifier.
	Invalidate(ctx context.Context) error
	// Items returns a copy of the session's data.
	Items() map[string]any
	// Update merges values into the session.
	Update(values map[string]any)
	// NewCSRFToken replaces the anti-forgery token and returns it.
	NewCSRFToken() (string, error)
}

// SessionCommitter is implemented by sessions that persist at response time.
type SessionCommitter interface {
	Commit(ctx context.Context, h http.Header) error
}

// SourceFactory builds the TicketSource for a request.
type SourceFactory func(r *http.Request) TicketSource

// BackendFactory builds a fresh Backend for a request.
type BackendFactory func(r *http.Request) Backend

// SessionFactory loads or creates the Session for a request.
type SessionFactory func(r *http.Request) (Session, error)
