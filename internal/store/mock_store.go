// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	users    map[string]*User          // keyed by userid
	groups   map[string]*Group         // keyed by pubid
	members  map[string][]string       // keyed by userid -> ordered pubids
	tickets  map[string]*Ticket        // keyed by ticket id
	sessions map[string]*SessionRecord // keyed by session id
}

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:    make(map[string]*User),
		groups:   make(map[string]*Group),
		members:  make(map[string][]string),
		tickets:  make(map[string]*Ticket),
		sessions: make(map[string]*SessionRecord),
	}
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.Authority == "" {
		user.Authority = DefaultAuthority
	}
	if user.UserID == "" {
		user.UserID = UserID(user.Username, user.Authority)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	if _, ok := m.users[user.UserID]; ok {
		return ErrUserExists
	}
	for _, u := range m.users {
		if u.Username == user.Username && u.Authority == user.Authority {
			return ErrUserExists
		}
	}

	// Make a copy to avoid external modification
	u := *user
	m.users[u.UserID] = &u
	return nil
}

// GetUser retrieves a user by userid.
func (m *MockStore) GetUser(ctx context.Context, userid string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userid]
	if !ok {
		return nil, ErrUserNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByUsername retrieves a user by username within an authority.
func (m *MockStore) GetUserByUsername(ctx context.Context, username, authority string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if authority == "" {
		authority = DefaultAuthority
	}
	for _, u := range m.users {
		if u.Username == username && u.Authority == authority {
			result := *u
			return &result, nil
		}
	}
	return nil, ErrUserNotFound
}

// UpdatePassword replaces a user's password hash.
func (m *MockStore) UpdatePassword(ctx context.Context, userid, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userid]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

// DeleteUser removes a user along with their memberships and tickets.
func (m *MockStore) DeleteUser(ctx context.Context, userid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userid]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, userid)
	delete(m.members, userid)
	m.deleteUserTicketsLocked(userid)
	return nil
}

// CreateGroup stores a new group.
func (m *MockStore) CreateGroup(ctx context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}
	g := *group
	m.groups[g.PubID] = &g
	return nil
}

// AddGroupMember adds a user to a group.
func (m *MockStore) AddGroupMember(ctx context.Context, pubid, userid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[pubid]; !ok {
		return ErrGroupNotFound
	}
	if _, ok := m.users[userid]; !ok {
		return ErrUserNotFound
	}
	for _, p := range m.members[userid] {
		if p == pubid {
			return nil
		}
	}
	m.members[userid] = append(m.members[userid], pubid)
	return nil
}

// ListUserGroups returns the user's group pubids in membership order.
func (m *MockStore) ListUserGroups(ctx context.Context, userid string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pubids := m.members[userid]
	if len(pubids) == 0 {
		return nil, nil
	}
	result := make([]string, len(pubids))
	copy(result, pubids)
	return result, nil
}

// CreateTicket stores a new auth ticket.
func (m *MockStore) CreateTicket(ctx context.Context, ticket *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[ticket.UserID]; !ok {
		return ErrUserNotFound
	}
	t := *ticket
	m.tickets[t.ID] = &t
	return nil
}

// GetTicket retrieves an auth ticket by id.
func (m *MockStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	result := *t
	return &result, nil
}

// TouchTicket moves the ticket's updated and expires times.
func (m *MockStore) TouchTicket(ctx context.Context, id string, updated, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	t.Updated = updated
	t.Expires = expires
	return nil
}

// DeleteTicket removes an auth ticket and reports whether it existed.
func (m *MockStore) DeleteTicket(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tickets[id]; !ok {
		return false, nil
	}
	delete(m.tickets, id)
	return true, nil
}

// DeleteExpiredTickets removes tickets that expired at or before now.
func (m *MockStore) DeleteExpiredTickets(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, t := range m.tickets {
		if t.Expired(now) {
			delete(m.tickets, id)
			n++
		}
	}
	return n, nil
}

// DeleteUserTickets removes every ticket owned by userid.
func (m *MockStore) DeleteUserTickets(ctx context.Context, userid string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteUserTicketsLocked(userid), nil
}

func (m *MockStore) deleteUserTicketsLocked(userid string) int64 {
	var n int64
	for id, t := range m.tickets {
		if t.UserID == userid {
			delete(m.tickets, id)
			n++
		}
	}
	return n
}

// GetSession retrieves a non-expired session.
func (m *MockStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[id]
	if !ok || !time.Now().Before(rec.Expires) {
		return nil, ErrSessionNotFound
	}
	result := *rec
	result.Data = append([]byte(nil), rec.Data...)
	return &result, nil
}

// SaveSession inserts or replaces a session record.
func (m *MockStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *rec
	r.Data = append([]byte(nil), rec.Data...)
	m.sessions[r.ID] = &r
	return nil
}

// DeleteSession deletes a session.
func (m *MockStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// DeleteExpiredSessions removes sessions that expired at or before now.
func (m *MockStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, rec := range m.sessions {
		if !now.Before(rec.Expires) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// SessionCount returns the number of stored sessions. Intended for tests.
func (m *MockStore) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// TicketCount returns the number of stored tickets. Intended for tests.
func (m *MockStore) TicketCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tickets)
}
