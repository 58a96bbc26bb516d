// ABOUTME: Tests for the HTTP authentication middleware
// ABOUTME: Covers response callbacks, session commit, and the principal gate

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCommittingPolicy returns a policy whose sessions persist through Commit.
func newCommittingPolicy(t *testing.T) (*Policy, *fakeTickets, *fakeSessions) {
	t.Helper()

	db := newFakeTickets()
	sessions := newFakeSessions()
	p, err := NewPolicy(Config{
		Sources:  newFakeSource,
		Backends: db.backend,
		Sessions: func(r *http.Request) (Session, error) {
			if sessions.loadErr != nil {
				return nil, sessions.loadErr
			}
			id := r.Header.Get(sessionHeader)
			if id == "" {
				id = sessions.seed(nil)
			}
			return committingSession{sessions.open(id)}, nil
		},
		Logger: testLogger,
	})
	require.NoError(t, err)
	return p, db, sessions
}

func TestMiddleware_AttachesRequest(t *testing.T) {
	f := newPolicyFixture(t, false)

	var got *Request
	handler := f.policy.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, got)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Same(t, got, FromContext(got.HTTP.Context()))
}

func TestMiddleware_VaryOnWrite(t *testing.T) {
	f := newPolicyFixture(t, false)

	handler := f.policy.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Accept-Encoding")
		f.policy.AuthenticatedUserID(MustFromContext(r.Context()))
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "Accept-Encoding, Cookie, X-Test-Ticket", rec.Header().Get("Vary"))
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMiddleware_NoVaryWithoutAuthLookup(t *testing.T) {
	f := newPolicyFixture(t, false)

	handler := f.policy.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("static"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Empty(t, rec.Header().Values("Vary"))
}

func TestMiddleware_CommitsSessionOnce(t *testing.T) {
	p, _, sessions := newCommittingPolicy(t)

	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := MustFromContext(r.Context())
		req.Session.Update(map[string]any{"theme": "dark"})
		w.WriteHeader(http.StatusOK)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("body"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sessions.commits)

	id := rec.Header().Get("X-Session-ID")
	require.NotEmpty(t, id)
	assert.Equal(t, "dark", sessions.open(id).items["theme"])
}

func TestMiddleware_CommitsWhenHandlerWritesNothing(t *testing.T) {
	p, _, sessions := newCommittingPolicy(t)

	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sessions.commits)
	assert.NotEmpty(t, rec.Header().Get("X-Session-ID"))
}

func TestMiddleware_FlushRunsCallbacks(t *testing.T) {
	p, _, sessions := newCommittingPolicy(t)

	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("chunk"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, rec.Flushed)
	assert.Equal(t, 1, sessions.commits)
}

func TestMiddleware_SessionLoadError(t *testing.T) {
	p, _, sessions := newCommittingPolicy(t)
	sessions.loadErr = errors.New("store unavailable")

	called := false
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestApplyHeaders(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "existing=1")

	ApplyHeaders(h, []Header{
		{Name: "Set-Cookie", Value: "auth=abc"},
		{Name: "X-Auth-Token", Value: "tok"},
	})

	assert.Equal(t, []string{"existing=1", "auth=abc"}, h.Values("Set-Cookie"))
	assert.Equal(t, "tok", h.Get("X-Auth-Token"))
}

func TestRequirePrincipal(t *testing.T) {
	f := newPolicyFixture(t, false)
	f.db.addUser(alice, "group:admins")
	f.db.addUser(bob)
	f.db.addTicket("TA", alice)
	f.db.addTicket("TB", bob)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name      string
		principal string
		pair      string
		want      int
	}{
		{name: "anonymous", principal: "group:admins", want: http.StatusUnauthorized},
		{name: "member", principal: "group:admins", pair: alice + " TA", want: http.StatusOK},
		{name: "non-member", principal: "group:admins", pair: bob + " TB", want: http.StatusForbidden},
		{name: "authenticated", principal: Authenticated, pair: bob + " TB", want: http.StatusOK},
		{name: "everyone", principal: Everyone, want: http.StatusOK},
		{name: "stale ticket", principal: Authenticated, pair: alice + " gone", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := f.policy.Middleware(RequirePrincipal(f.policy, tt.principal)(ok))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.pair != "" {
				r.Header.Set(ticketHeader, tt.pair)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, r)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusOK {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestRequirePrincipal_WithoutMiddleware(t *testing.T) {
	f := newPolicyFixture(t, false)
	handler := RequirePrincipal(f.policy, Everyone)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"not authenticated"}`, rec.Body.String())
}
