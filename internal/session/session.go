// ABOUTME: Server-side sessions keyed by an opaque cookie id distinct from the auth ticket
// ABOUTME: Carries key/value state and a CSRF token; supports invalidation and id rotation

package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/2389/ticketd/internal/auth"
	"github.com/2389/ticketd/internal/store"
)

const (
	// DefaultCookieName is the session cookie used when Config.CookieName is empty.
	DefaultCookieName = "session"
	// DefaultMaxAge is how long an idle session is kept.
	DefaultMaxAge = 30 * 24 * time.Hour
	// CSRFKey is the session key holding the anti-forgery token.
	CSRFKey = "_csrft_"

	idBytes = 32
)

// Config configures a Manager.
type Config struct {
	CookieName string
	Path       string
	Domain     string
	Secure     bool
	SameSite   http.SameSite
	MaxAge     time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Manager loads and persists sessions. It is shared across requests.
type Manager struct {
	store  store.SessionStore
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a Manager over a session store.
func NewManager(s store.SessionStore, cfg Config) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		store:  s,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "session"),
	}
}

// Load is an auth.SessionFactory.
func (m *Manager) Load(r *http.Request) (auth.Session, error) {
	return m.Open(r)
}

// Open returns the request's session, or a new empty one when the cookie is
// missing, unknown or expired. Store failures are returned.
func (m *Manager) Open(r *http.Request) (*Session, error) {
	s := &Session{m: m, data: make(map[string]any)}

	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil || c.Value == "" {
		return s, nil
	}
	s.hadCookie = true

	rec, err := m.store.GetSession(r.Context(), c.Value)
	if errors.Is(err, store.ErrSessionNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	if err := json.Unmarshal(rec.Data, &s.data); err != nil {
		m.logger.Warn("discarding undecodable session", "error", err)
		s.data = make(map[string]any)
		return s, nil
	}
	s.id = rec.ID
	s.loadedID = rec.ID
	return s, nil
}

// Session is one request's view of a server-side session.
type Session struct {
	m *Manager

	mu          sync.Mutex
	id          string // empty until the session is first persisted
	loadedID    string // id read from the cookie, if it resolved
	hadCookie   bool
	data        map[string]any
	dirty       bool
	invalidated bool
}

var (
	_ auth.Session          = (*Session)(nil)
	_ auth.SessionCommitter = (*Session)(nil)
)

// FromRequest returns the request's session when it is managed by this package.
func FromRequest(req *auth.Request) (*Session, bool) {
	if req == nil || req.Session == nil {
		return nil, false
	}
	s, ok := req.Session.(*Session)
	return s, ok
}

// ID returns the current session id, empty when none has been assigned.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Get returns a single value.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Items returns a copy of the session data.
func (s *Session) Items() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data)
}

// Update merges values into the session.
func (s *Session) Update(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.data, values)
	s.dirty = true
}

// Invalidate deletes the stored session, drops its data and assigns a new id.
func (s *Session) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id != "" {
		if err := s.m.store.DeleteSession(ctx, s.id); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
			return fmt.Errorf("deleting session: %w", err)
		}
	}

	id, err := newID()
	if err != nil {
		return err
	}
	s.id = id
	s.data = make(map[string]any)
	s.dirty = true
	s.invalidated = true
	return nil
}

// NewCSRFToken replaces the anti-forgery token.
func (s *Session) NewCSRFToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newCSRFTokenLocked()
}

// CSRFToken returns the current anti-forgery token, creating one if absent.
func (s *Session) CSRFToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.data[CSRFKey].(string); ok && token != "" {
		return token, nil
	}
	return s.newCSRFTokenLocked()
}

// ValidCSRF reports whether token matches the session's anti-forgery token.
func (s *Session) ValidCSRF(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	want, _ := s.data[CSRFKey].(string)
	if want == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

func (s *Session) newCSRFTokenLocked() (string, error) {
	token, err := newID()
	if err != nil {
		return "", err
	}
	s.data[CSRFKey] = token
	s.dirty = true
	return token, nil
}

// Commit persists a changed session and adds the Set-Cookie header when the
// client must learn a new id or forget the old one.
func (s *Session) Commit(ctx context.Context, h http.Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	m := s.m

	if len(s.data) == 0 {
		if s.id != "" && !s.invalidated {
			if err := m.store.DeleteSession(ctx, s.id); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
				return fmt.Errorf("deleting session: %w", err)
			}
		}
		if s.hadCookie {
			c := m.cookie("")
			c.MaxAge = -1
			h.Add("Set-Cookie", c.String())
		}
		s.dirty = false
		return nil
	}

	if s.id == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		s.id = id
	}

	data, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	rec := &store.SessionRecord{
		ID:      s.id,
		Data:    data,
		Expires: m.cfg.Now().Add(m.cfg.MaxAge),
	}
	if err := m.store.SaveSession(ctx, rec); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	if s.id != s.loadedID {
		c := m.cookie(s.id)
		c.MaxAge = int(m.cfg.MaxAge / time.Second)
		h.Add("Set-Cookie", c.String())
	}

	s.loadedID = s.id
	s.dirty = false
	return nil
}

func (m *Manager) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     m.cfg.Path,
		Domain:   m.cfg.Domain,
		Secure:   m.cfg.Secure,
		HttpOnly: true,
		SameSite: m.cfg.SameSite,
	}
}

// newID returns a random, URL-safe identifier.
func newID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
