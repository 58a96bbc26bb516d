// ABOUTME: Signed-cookie ticket source carrying the principal and ticket pair
// ABOUTME: Uses gorilla/securecookie so tampered or expired cookies read as empty

package source

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/2389/ticketd/internal/auth"
)

// DefaultCookieName is the cookie used when CookieConfig.Name is empty.
const DefaultCookieName = "auth"

// MinSecretLength is the minimum key length for signing cookies and tokens.
const MinSecretLength = 32

// ErrSecretTooShort is returned when a signing secret is shorter than MinSecretLength.
var ErrSecretTooShort = fmt.Errorf("secret must be at least %d bytes", MinSecretLength)

// CookieConfig configures a CookieProfile.
type CookieConfig struct {
	Name     string
	HashKey  []byte
	BlockKey []byte // optional; 16, 24 or 32 bytes enables AES encryption
	MaxAge   time.Duration
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// CookieProfile holds the codec and attributes shared by every CookieSource.
type CookieProfile struct {
	cfg   CookieConfig
	codec *securecookie.SecureCookie
}

// NewCookieProfile creates a CookieProfile.
func NewCookieProfile(cfg CookieConfig) (*CookieProfile, error) {
	if len(cfg.HashKey) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if n := len(cfg.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return nil, errors.New("cookie block key must be 16, 24 or 32 bytes")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultCookieName
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}

	var blockKey []byte
	if len(cfg.BlockKey) > 0 {
		blockKey = cfg.BlockKey
	}
	codec := securecookie.New(cfg.HashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.MaxAge / time.Second))

	return &CookieProfile{cfg: cfg, codec: codec}, nil
}

// Source is an auth.SourceFactory reading the profile's cookie.
func (p *CookieProfile) Source(r *http.Request) auth.TicketSource {
	s := &CookieSource{profile: p}

	c, err := r.Cookie(p.cfg.Name)
	if err != nil {
		return s
	}

	var pair []string
	if err := p.codec.Decode(p.cfg.Name, c.Value, &pair); err != nil || len(pair) != 2 {
		return s
	}
	s.principal, s.ticket = pair[0], pair[1]
	return s
}

// CookieSource is the request-scoped view of a CookieProfile.
type CookieSource struct {
	profile   *CookieProfile
	principal string
	ticket    string
}

var _ auth.TicketSource = (*CookieSource)(nil)

// Value returns the pair carried by the request's cookie.
func (s *CookieSource) Value() (string, string) {
	return s.principal, s.ticket
}

// HeadersRemember returns a Set-Cookie header holding the signed pair.
func (s *CookieSource) HeadersRemember(principal, ticket string) ([]auth.Header, error) {
	p := s.profile
	value, err := p.codec.Encode(p.cfg.Name, []string{principal, ticket})
	if err != nil {
		return nil, fmt.Errorf("encoding auth cookie: %w", err)
	}

	c := p.cookie(value)
	if p.cfg.MaxAge > 0 {
		c.MaxAge = int(p.cfg.MaxAge / time.Second)
	}
	return []auth.Header{{Name: "Set-Cookie", Value: c.String()}}, nil
}

// HeadersForget returns a Set-Cookie header that deletes the cookie.
func (s *CookieSource) HeadersForget() []auth.Header {
	c := s.profile.cookie("")
	c.MaxAge = -1
	return []auth.Header{{Name: "Set-Cookie", Value: c.String()}}
}

// Vary lists the request header the pair is read from.
func (s *CookieSource) Vary() []string {
	return []string{"Cookie"}
}

func (p *CookieProfile) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     p.cfg.Name,
		Value:    value,
		Path:     p.cfg.Path,
		Domain:   p.cfg.Domain,
		Secure:   p.cfg.Secure,
		HttpOnly: true,
		SameSite: p.cfg.SameSite,
	}
}
