// ABOUTME: In-memory ticket source, backend, and session used by auth tests
// ABOUTME: The backend mirrors ticket.Service state transitions without a database

package auth

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

var errUnknownUser = errors.New("unknown user")

// ticketHeader carries "principal ticket" in both directions for tests.
const ticketHeader = "X-Test-Ticket"

type fakeSource struct {
	principal string
	ticket    string
}

func newFakeSource(r *http.Request) TicketSource {
	principal, ticket, _ := strings.Cut(r.Header.Get(ticketHeader), " ")
	return &fakeSource{principal: principal, ticket: ticket}
}

func (s *fakeSource) Value() (string, string) { return s.principal, s.ticket }

func (s *fakeSource) HeadersRemember(principal, ticket string) ([]Header, error) {
	return []Header{{Name: ticketHeader, Value: principal + " " + ticket}}, nil
}

func (s *fakeSource) HeadersForget() []Header {
	return []Header{{Name: ticketHeader, Value: ""}}
}

func (s *fakeSource) Vary() []string { return []string{"Cookie", ticketHeader} }

// brokenSource cannot encode a pair for the client.
type brokenSource struct {
	fakeSource
	err error
}

func (s *brokenSource) HeadersRemember(principal, ticket string) ([]Header, error) {
	return nil, s.err
}

// fakeTickets is the shared ticket database behind every fakeBackend.
type fakeTickets struct {
	mu        sync.Mutex
	users     map[string][]string // userid -> groups
	tickets   map[string]string   // ticket -> userid
	verifyErr error
	groupsErr error
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{
		users:   make(map[string][]string),
		tickets: make(map[string]string),
	}
}

func (db *fakeTickets) addUser(userid string, groups ...string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[userid] = groups
}

func (db *fakeTickets) addTicket(ticket, userid string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tickets[ticket] = userid
}

func (db *fakeTickets) hasTicket(ticket string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.tickets[ticket]
	return ok
}

func (db *fakeTickets) backend(*http.Request) Backend {
	return &fakeBackend{db: db}
}

type fakeBackend struct {
	db          *fakeTickets
	state       Verification
	verifyCalls int
}

func (b *fakeBackend) UserID() Verification { return b.state }

func (b *fakeBackend) Groups(ctx context.Context) ([]string, error) {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	if b.db.groupsErr != nil {
		return nil, b.db.groupsErr
	}
	if b.state.State != StateVerified {
		return nil, nil
	}
	return append([]string(nil), b.db.users[b.state.UserID]...), nil
}

func (b *fakeBackend) VerifyTicket(ctx context.Context, principal, ticket string) error {
	b.verifyCalls++
	b.state = Verification{State: StateFailed}

	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	if b.db.verifyErr != nil {
		return b.db.verifyErr
	}
	if principal == "" || ticket == "" {
		return nil
	}
	if b.db.tickets[ticket] != principal {
		return nil
	}
	if _, ok := b.db.users[principal]; !ok {
		return nil
	}
	b.state = Verification{State: StateVerified, UserID: principal}
	return nil
}

func (b *fakeBackend) AddTicket(ctx context.Context, principal, ticket string) error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	if _, ok := b.db.users[principal]; !ok {
		return errUnknownUser
	}
	b.db.tickets[ticket] = principal
	b.state = Verification{State: StateVerified, UserID: principal}
	return nil
}

func (b *fakeBackend) RemoveTicket(ctx context.Context, ticket string) (bool, error) {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	b.state = Verification{State: StateFailed}
	if _, ok := b.db.tickets[ticket]; !ok {
		return false, nil
	}
	delete(b.db.tickets, ticket)
	return true, nil
}

// fakeSessions is a session store keyed by session id.
type fakeSessions struct {
	mu      sync.Mutex
	data    map[string]map[string]any
	nextID  int
	commits       int
	loadErr       error
	invalidateErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{data: make(map[string]map[string]any)}
}

func (s *fakeSessions) newID() string {
	s.nextID++
	return "sess-" + strconv.Itoa(s.nextID)
}

// seed stores a session and returns its id.
func (s *fakeSessions) seed(values map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	s.data[id] = maps.Clone(values)
	return id
}

func (s *fakeSessions) exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[id]
	return ok
}

func (s *fakeSessions) open(id string) *fakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &fakeSession{store: s, id: id, items: maps.Clone(s.data[id])}
}

type fakeSession struct {
	store *fakeSessions
	id    string
	items map[string]any
	csrf  int
}

func (s *fakeSession) Invalidate(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.invalidateErr != nil {
		return s.store.invalidateErr
	}
	delete(s.store.data, s.id)
	s.id = s.store.newID()
	s.items = make(map[string]any)
	return nil
}

func (s *fakeSession) Items() map[string]any {
	return maps.Clone(s.items)
}

func (s *fakeSession) Update(values map[string]any) {
	if s.items == nil {
		s.items = make(map[string]any)
	}
	maps.Copy(s.items, values)
}

func (s *fakeSession) NewCSRFToken() (string, error) {
	s.csrf++
	token := "csrf-" + strconv.Itoa(s.csrf)
	s.Update(map[string]any{"_csrft_": token})
	return token, nil
}

// committingSession persists on Commit, like session.Session.
type committingSession struct {
	*fakeSession
}

func (s committingSession) Commit(ctx context.Context, h http.Header) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.commits++
	s.store.data[s.id] = maps.Clone(s.items)
	h.Set("X-Session-ID", s.id)
	return nil
}

type fakeRecorder struct {
	mu            sync.Mutex
	verifications []string
	logins        []string
	logouts       []string
}

func (r *fakeRecorder) RecordVerification(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifications = append(r.verifications, outcome)
}

func (r *fakeRecorder) RecordLogin(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, outcome)
}

func (r *fakeRecorder) RecordLogout(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logouts = append(r.logouts, outcome)
}
