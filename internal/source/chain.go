// ABOUTME: Combines several ticket sources into one
// ABOUTME: The first source presenting a pair wins; forgetting clears every source

package source

import (
	"net/http"
	"strings"

	"github.com/2389/ticketd/internal/auth"
)

type chain []auth.TicketSource

// Chain returns a TicketSource consulting sources in order. Remember issues
// through the first source.
func Chain(sources ...auth.TicketSource) auth.TicketSource {
	return chain(sources)
}

// ChainFactory builds a chained source from per-request factories.
func ChainFactory(factories ...auth.SourceFactory) auth.SourceFactory {
	return func(r *http.Request) auth.TicketSource {
		sources := make([]auth.TicketSource, len(factories))
		for i, f := range factories {
			sources[i] = f(r)
		}
		return Chain(sources...)
	}
}

func (c chain) Value() (string, string) {
	for _, s := range c {
		if principal, ticket := s.Value(); principal != "" || ticket != "" {
			return principal, ticket
		}
	}
	return "", ""
}

func (c chain) HeadersRemember(principal, ticket string) ([]auth.Header, error) {
	if len(c) == 0 {
		return nil, nil
	}
	return c[0].HeadersRemember(principal, ticket)
}

func (c chain) HeadersForget() []auth.Header {
	var headers []auth.Header
	for _, s := range c {
		headers = append(headers, s.HeadersForget()...)
	}
	return headers
}

func (c chain) Vary() []string {
	var vary []string
	seen := make(map[string]bool)
	for _, s := range c {
		for _, v := range s.Vary() {
			key := strings.ToLower(v)
			if !seen[key] {
				seen[key] = true
				vary = append(vary, v)
			}
		}
	}
	return vary
}
