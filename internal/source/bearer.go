// ABOUTME: Bearer-token ticket source for API clients
// ABOUTME: HS256 JWTs carry the principal in "sub" and the ticket in "jti"

package source

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/ticketd/internal/auth"
)

// TokenHeader is the response header a BearerSource hands new tokens out in.
const TokenHeader = "X-Auth-Token"

// DefaultTokenTTL bounds a token's lifetime when BearerConfig.TTL is zero.
const DefaultTokenTTL = 7 * 24 * time.Hour

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// BearerConfig configures a BearerProfile.
type BearerConfig struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// BearerProfile signs and verifies the tokens shared by every BearerSource.
type BearerProfile struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewBearerProfile creates a BearerProfile.
func NewBearerProfile(cfg BearerConfig) (*BearerProfile, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &BearerProfile{secret: cfg.Secret, ttl: cfg.TTL, now: cfg.Now}, nil
}

// Source is an auth.SourceFactory reading the Authorization header.
func (p *BearerProfile) Source(r *http.Request) auth.TicketSource {
	s := &BearerSource{profile: p}

	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return s
	}

	principal, ticket, err := p.Verify(strings.TrimSpace(token))
	if err != nil {
		return s
	}
	s.principal, s.ticket = principal, ticket
	return s
}

// Verify validates token and returns its principal and ticket.
func (p *BearerProfile) Verify(tokenString string) (principal, ticket string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrExpiredToken
		}
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return "", "", fmt.Errorf("%w: jti", ErrMissingClaim)
	}
	return sub, jti, nil
}

// Sign creates a token for the pair.
func (p *BearerProfile) Sign(principal, ticket string) (string, error) {
	now := p.now()
	claims := jwt.MapClaims{
		"sub": principal,
		"jti": ticket,
		"iat": now.Unix(),
		"exp": now.Add(p.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// BearerSource is the request-scoped view of a BearerProfile.
type BearerSource struct {
	profile   *BearerProfile
	principal string
	ticket    string
}

var _ auth.TicketSource = (*BearerSource)(nil)

func (s *BearerSource) Value() (string, string) {
	return s.principal, s.ticket
}

// HeadersRemember returns the signed token in the X-Auth-Token header.
func (s *BearerSource) HeadersRemember(principal, ticket string) ([]auth.Header, error) {
	token, err := s.profile.Sign(principal, ticket)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return []auth.Header{{Name: TokenHeader, Value: token}}, nil
}

// HeadersForget returns an empty X-Auth-Token. Clients drop their stored token.
func (s *BearerSource) HeadersForget() []auth.Header {
	return []auth.Header{{Name: TokenHeader, Value: ""}}
}

func (s *BearerSource) Vary() []string {
	return []string{"Authorization"}
}
