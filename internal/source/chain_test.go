// ABOUTME: Tests for chained ticket sources
// ABOUTME: Covers first-match reads, remember delegation, and merged forget/vary

package source

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ticketd/internal/auth"
)

func TestChainFactory(t *testing.T) {
	cookies := newTestCookieProfile(t, nil)
	bearer := newTestBearerProfile(t, nil)
	factory := ChainFactory(cookies.Source, bearer.Source)

	token, err := bearer.Sign("acct:api@example.com", "TB")
	require.NoError(t, err)
	cookieHeaders, err := cookies.Source(httptest.NewRequest(http.MethodGet, "/", nil)).HeadersRemember("acct:browser@example.com", "TC")
	require.NoError(t, err)

	t.Run("bearer only", func(t *testing.T) {
		principal, ticket := factory(bearerRequest(token)).Value()
		assert.Equal(t, "acct:api@example.com", principal)
		assert.Equal(t, "TB", ticket)
	})

	t.Run("cookie wins", func(t *testing.T) {
		r := requestWithSetCookie(t, cookieHeaders[0].Value)
		r.Header.Set("Authorization", "Bearer "+token)

		principal, ticket := factory(r).Value()
		assert.Equal(t, "acct:browser@example.com", principal)
		assert.Equal(t, "TC", ticket)
	})

	t.Run("nothing presented", func(t *testing.T) {
		principal, ticket := factory(httptest.NewRequest(http.MethodGet, "/", nil)).Value()
		assert.Empty(t, principal)
		assert.Empty(t, ticket)
	})

	t.Run("remember uses first source", func(t *testing.T) {
		headers, err := factory(httptest.NewRequest(http.MethodGet, "/", nil)).HeadersRemember("acct:alice@example.com", "T1")
		require.NoError(t, err)
		require.Len(t, headers, 1)
		assert.Equal(t, "Set-Cookie", headers[0].Name)
	})

	t.Run("forget clears all", func(t *testing.T) {
		headers := factory(httptest.NewRequest(http.MethodGet, "/", nil)).HeadersForget()
		require.Len(t, headers, 2)
		assert.Equal(t, "Set-Cookie", headers[0].Name)
		assert.Equal(t, TokenHeader, headers[1].Name)
	})

	t.Run("vary union", func(t *testing.T) {
		assert.Equal(t, []string{"Cookie", "Authorization"}, factory(httptest.NewRequest(http.MethodGet, "/", nil)).Vary())
	})
}

func TestChain_Empty(t *testing.T) {
	s := Chain()
	principal, ticket := s.Value()
	assert.Empty(t, principal)
	assert.Empty(t, ticket)

	headers, err := s.HeadersRemember("acct:alice@example.com", "T1")
	assert.NoError(t, err)
	assert.Empty(t, headers)
	assert.Empty(t, s.HeadersForget())
	assert.Empty(t, s.Vary())
}

func TestChain_DeduplicatesVary(t *testing.T) {
	cookies := newTestCookieProfile(t, nil)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	var s auth.TicketSource = Chain(cookies.Source(r), cookies.Source(r))
	assert.Equal(t, []string{"Cookie"}, s.Vary())
}
