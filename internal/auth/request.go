// ABOUTME: Per-request authentication context carrying the resolved collaborators
// ABOUTME: Collects response callbacks and merges Vary headers exactly once per response

package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// ResponseCallback mutates response headers before they are sent.
type ResponseCallback func(h http.Header)

// Request bundles the collaborators resolved for one inbound HTTP request.
// It must never be shared across requests.
type Request struct {
	HTTP    *http.Request
	Source  TicketSource
	Backend Backend
	Session Session // nil when sessions are disabled

	mu        sync.Mutex
	callbacks []ResponseCallback
	varyAdded bool
	responded bool
}

// NewRequest creates a Request from already-resolved collaborators.
func NewRequest(r *http.Request, source TicketSource, backend Backend, session Session) *Request {
	return &Request{
		HTTP:    r,
		Source:  source,
		Backend: backend,
		Session: session,
	}
}

// Context returns the underlying request's context.
func (r *Request) Context() context.Context {
	if r.HTTP == nil {
		return context.Background()
	}
	return r.HTTP.Context()
}

// AddResponseCallback registers fn to run when the response headers are written.
// Callbacks added after the response started are ignored.
func (r *Request) AddResponseCallback(fn ResponseCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.responded {
		return
	}
	r.callbacks = append(r.callbacks, fn)
}

// RunResponseCallbacks runs every registered callback in order. Only the first
// call has any effect.
func (r *Request) RunResponseCallbacks(h http.Header) {
	r.mu.Lock()
	if r.responded {
		r.mu.Unlock()
		return
	}
	r.responded = true
	callbacks := r.callbacks
	r.callbacks = nil
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(h)
	}
}

// addVary registers a single Vary-merging callback for the request's source.
func (r *Request) addVary(names []string) {
	if len(names) == 0 {
		return
	}

	r.mu.Lock()
	if r.varyAdded || r.responded {
		r.mu.Unlock()
		return
	}
	r.varyAdded = true
	r.mu.Unlock()

	vary := append([]string(nil), names...)
	r.AddResponseCallback(func(h http.Header) {
		MergeVary(h, vary)
	})
}

// MergeVary adds names to the Vary header without duplicating values already present.
// Existing values keep their position; comparison is case-insensitive.
func MergeVary(h http.Header, names []string) {
	var merged []string
	seen := make(map[string]bool)

	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		key := strings.ToLower(v)
		if seen[key] {
			return
		}
		seen[key] = true
		merged = append(merged, v)
	}

	for _, line := range h.Values("Vary") {
		for _, v := range strings.Split(line, ",") {
			add(v)
		}
	}
	for _, v := range names {
		add(http.CanonicalHeaderKey(strings.TrimSpace(v)))
	}

	if len(merged) == 0 {
		return
	}
	h.Set("Vary", strings.Join(merged, ", "))
}
