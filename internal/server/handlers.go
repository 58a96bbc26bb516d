// ABOUTME: HTTP handlers for login, logout, profile and anti-forgery tokens
// ABOUTME: Credentials are checked with bcrypt; tickets are issued through the auth policy

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/ticketd/internal/auth"
	"github.com/2389/ticketd/internal/session"
	"github.com/2389/ticketd/internal/source"
	"github.com/2389/ticketd/internal/store"
)

// CSRFHeader carries the anti-forgery token on login and logout.
const CSRFHeader = "X-CSRF-Token"

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

const maxBodyBytes = 1 << 20

// dummyHash keeps the bcrypt cost constant when the user does not exist, so
// response timing does not reveal valid usernames.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

var errInvalidCredentials = errors.New("invalid username or password")

// credentials is the body of POST /login, as JSON or form fields.
type credentials struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Authority string `json:"authority"`
	CSRFToken string `json:"csrf_token"`
}

// LoginResponse is returned by POST /login and POST /api/token.
type LoginResponse struct {
	UserID     string   `json:"userid"`
	Principals []string `json:"principals"`
	Token      string   `json:"token,omitempty"`
}

// ProfileResponse is returned by GET /api/profile.
type ProfileResponse struct {
	UserID     string   `json:"userid"`
	Principals []string `json:"principals"`
}

// LogoutResponse is returned by POST /logout.
type LogoutResponse struct {
	Removed bool `json:"removed"`
}

// Handler returns the routed, logged handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/login", s.browser.Middleware(s.handleLogin(s.browser)))
	mux.Handle("/logout", s.browser.Middleware(http.HandlerFunc(s.handleLogout)))
	mux.Handle("/api/csrf", s.browser.Middleware(http.HandlerFunc(s.handleCSRF)))

	profile := auth.RequirePrincipal(s.browser, auth.Authenticated)(http.HandlerFunc(s.handleProfile))
	mux.Handle("/api/profile", s.browser.Middleware(profile))

	if s.api != nil {
		mux.Handle("/api/token", s.api.Middleware(s.handleLogin(s.api)))
	}

	if s.cfg.Metrics.Enabled {
		mux.Handle(s.cfg.Metrics.Path, s.metrics.Handler())
	}

	return s.logRequests(mux)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleLogin checks credentials and issues a ticket through policy. The same
// handler serves cookie logins and bearer token requests.
func (s *Server) handleLogin(policy *auth.Policy) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		req := auth.MustFromContext(r.Context())

		creds, err := parseCredentials(r)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if creds.Username == "" || creds.Password == "" {
			s.sendJSONError(w, http.StatusBadRequest, "username and password required")
			return
		}
		if !s.validCSRF(req, r, creds.CSRFToken) {
			s.sendJSONError(w, http.StatusForbidden, "invalid csrf token")
			return
		}

		user, err := s.authenticate(r.Context(), creds)
		if err != nil {
			if errors.Is(err, errInvalidCredentials) {
				s.sendJSONError(w, http.StatusUnauthorized, err.Error())
				return
			}
			s.logger.Error("failed to look up user", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}

		headers, err := policy.Remember(req, user.UserID)
		if err != nil {
			s.logger.Error("failed to issue ticket", "userid", user.UserID, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		auth.ApplyHeaders(w.Header(), headers)

		resp := LoginResponse{
			UserID:     user.UserID,
			Principals: policy.EffectivePrincipals(req),
		}
		for _, h := range headers {
			if h.Name == source.TokenHeader {
				resp.Token = h.Value
			}
		}
		s.sendJSON(w, http.StatusOK, resp)
	})
}

// authenticate returns the user matching creds. Unknown users and wrong
// passwords both yield errInvalidCredentials.
func (s *Server) authenticate(ctx context.Context, creds credentials) (*store.User, error) {
	user, err := s.backends.Users.GetUserByUsername(ctx, creds.Username, creds.Authority)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(creds.Password))
			return nil, errInvalidCredentials
		}
		return nil, err
	}

	if user.PasswordHash == "" {
		// Password login disabled for this account
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(creds.Password))
		return nil, errInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, errInvalidCredentials
	}
	return user, nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req := auth.MustFromContext(r.Context())

	token := r.Header.Get(CSRFHeader)
	if token == "" {
		token = r.FormValue("csrf_token")
	}
	if !s.validCSRF(req, r, token) {
		s.sendJSONError(w, http.StatusForbidden, "invalid csrf token")
		return
	}

	headers, err := s.browser.Forget(req)
	auth.ApplyHeaders(w.Header(), headers)

	removed := err == nil
	if err != nil && !onlyTicketMissing(err) {
		s.logger.Error("failed to forget ticket", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.sendJSON(w, http.StatusOK, LogoutResponse{Removed: removed})
}

// onlyTicketMissing reports whether every error joined into err is ErrTicketNotFound.
func onlyTicketMissing(err error) bool {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if !errors.Is(e, auth.ErrTicketNotFound) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, auth.ErrTicketNotFound)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req := auth.MustFromContext(r.Context())

	userid, _ := s.browser.AuthenticatedUserID(req)
	s.sendJSON(w, http.StatusOK, ProfileResponse{
		UserID:     userid,
		Principals: s.browser.EffectivePrincipals(req),
	})
}

// handleCSRF returns the session's anti-forgery token, creating one if needed.
func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, ok := session.FromRequest(auth.MustFromContext(r.Context()))
	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "sessions are disabled")
		return
	}
	token, err := sess.CSRFToken()
	if err != nil {
		s.logger.Error("failed to create csrf token", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

// validCSRF checks the anti-forgery token for cookie-borne requests. Requests
// with an Authorization header, or without a session, are not checked.
func (s *Server) validCSRF(req *auth.Request, r *http.Request, token string) bool {
	if r.Header.Get("Authorization") != "" {
		return true
	}
	sess, ok := session.FromRequest(req)
	if !ok {
		return true
	}
	if token == "" {
		token = r.Header.Get(CSRFHeader)
	}
	return sess.ValidCSRF(token)
}

// parseCredentials reads a JSON body or form fields.
func parseCredentials(r *http.Request) (credentials, error) {
	var c credentials

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&c); err != nil {
			return c, err
		}
		return c, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return c, err
	}
	c.Username = r.FormValue("username")
	c.Password = r.FormValue("password")
	c.Authority = r.FormValue("authority")
	c.CSRFToken = r.FormValue("csrf_token")
	return c, nil
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// logRequests tags each request with an id and logs it at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.LogAttrs(r.Context(), slog.LevelDebug, "request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
