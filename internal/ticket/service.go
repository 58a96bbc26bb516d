// ABOUTME: Ticket-store backed Auth Backend: a shared Manager mints one Service per request
// ABOUTME: Verifies tickets, slides their expiry, reports group principals, issues and removes tickets

package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/ticketd/internal/auth"
	"github.com/2389/ticketd/internal/store"
)

// Default ticket timing.
const (
	DefaultTTL             = 7 * 24 * time.Hour
	DefaultRefreshInterval = time.Minute
)

// GroupPrefix prefixes every group principal.
const GroupPrefix = "group:"

// ErrUnknownPrincipal is returned by AddTicket when the principal has no account.
var ErrUnknownPrincipal = errors.New("unknown principal")

// Config configures a Manager. Zero values select the defaults.
type Config struct {
	TTL             time.Duration
	RefreshInterval time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// Manager holds the stores and timing shared by every request's Service.
type Manager struct {
	tickets store.TicketStore
	users   store.UserStore
	ttl     time.Duration
	refresh time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewManager creates a Manager over the given ticket and user stores.
func NewManager(tickets store.TicketStore, users store.UserStore, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		tickets: tickets,
		users:   users,
		ttl:     cfg.TTL,
		refresh: cfg.RefreshInterval,
		now:     cfg.Now,
		logger:  cfg.Logger.With("component", "ticket"),
	}
}

// TTL returns how long an unrefreshed ticket stays valid.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Backend is an auth.BackendFactory.
func (m *Manager) Backend(*http.Request) auth.Backend {
	return m.NewService()
}

// NewService returns a fresh, unverified Service.
func (m *Manager) NewService() *Service {
	return &Service{m: m}
}

// Service is the per-request Auth Backend. It must not be shared across requests.
type Service struct {
	m *Manager

	mu           sync.Mutex
	state        auth.Verification
	groups       []string
	groupsLoaded bool
}

var _ auth.Backend = (*Service)(nil)

// UserID reports the verification state.
func (s *Service) UserID() auth.Verification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Groups returns "group:<pubid>" for each of the verified user's memberships.
func (s *Service) Groups(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.State != auth.StateVerified {
		return nil, nil
	}
	if s.groupsLoaded {
		return append([]string(nil), s.groups...), nil
	}

	pubids, err := s.m.users.ListUserGroups(ctx, s.state.UserID)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	groups := make([]string, len(pubids))
	for i, pubid := range pubids {
		groups[i] = GroupPrefix + pubid
	}
	s.groups = groups
	s.groupsLoaded = true
	return append([]string(nil), groups...), nil
}

// VerifyTicket checks that ticket is a live ticket owned by principal.
func (s *Service) VerifyTicket(ctx context.Context, principal, ticket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setState(auth.Verification{State: auth.StateFailed})

	if principal == "" || ticket == "" {
		return nil
	}

	t, err := s.m.tickets.GetTicket(ctx, ticket)
	if errors.Is(err, store.ErrTicketNotFound) {
		s.m.logger.Debug("unknown ticket", "principal", principal)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading ticket: %w", err)
	}

	now := s.m.now()
	if t.UserID != principal {
		s.m.logger.Debug("ticket principal mismatch", "principal", principal)
		return nil
	}
	if t.Expired(now) {
		s.m.logger.Debug("expired ticket", "principal", principal, "expired", t.Expires)
		return nil
	}

	if now.Sub(t.Updated) > s.m.refresh {
		if err := s.m.tickets.TouchTicket(ctx, ticket, now, now.Add(s.m.ttl)); err != nil {
			s.m.logger.Warn("failed to refresh ticket", "principal", principal, "error", err)
		}
	}

	s.setState(auth.Verification{State: auth.StateVerified, UserID: principal})
	return nil
}

// AddTicket records ticket for principal and marks the service verified as principal.
func (s *Service) AddTicket(ctx context.Context, principal, ticket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.m.users.GetUser(ctx, principal); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownPrincipal, principal)
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	now := s.m.now()
	err := s.m.tickets.CreateTicket(ctx, &store.Ticket{
		ID:      ticket,
		UserID:  principal,
		Created: now,
		Updated: now,
		Expires: now.Add(s.m.ttl),
	})
	if errors.Is(err, store.ErrUserNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownPrincipal, principal)
	}
	if err != nil {
		return fmt.Errorf("storing ticket: %w", err)
	}

	s.setState(auth.Verification{State: auth.StateVerified, UserID: principal})
	return nil
}

// RemoveTicket deletes ticket and reports whether it existed. The service ends
// up with no verified user either way.
func (s *Service) RemoveTicket(ctx context.Context, ticket string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setState(auth.Verification{State: auth.StateFailed})

	if ticket == "" {
		return false, nil
	}
	removed, err := s.m.tickets.DeleteTicket(ctx, ticket)
	if err != nil {
		return false, fmt.Errorf("deleting ticket: %w", err)
	}
	return removed, nil
}

// setState replaces the verification and drops cached groups. Caller holds mu.
func (s *Service) setState(v auth.Verification) {
	s.state = v
	s.groups = nil
	s.groupsLoaded = false
}
