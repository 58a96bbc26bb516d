// ABOUTME: HTTP middleware wiring the authentication policy into request handling
// ABOUTME: Builds a per-request auth Request and runs response callbacks before headers are sent

package auth

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
)

// Middleware resolves the auth collaborators for every request and attaches the
// resulting Request to the request context. Response callbacks (Vary merging,
// session commit) run exactly once, just before the response headers are written.
func (p *Policy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := p.NewRequest(r)
		if err != nil {
			p.logger.Error("failed to prepare auth request", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}

		r = r.WithContext(WithRequest(r.Context(), req))
		req.HTTP = r

		rw := &responseWriter{ResponseWriter: w, req: req}
		next.ServeHTTP(rw, r)

		// Handler wrote nothing: the server would send an empty 200
		if !rw.wroteHeader {
			rw.WriteHeader(http.StatusOK)
		}
	})
}

// ApplyHeaders adds headers produced by Remember or Forget to h.
func ApplyHeaders(h http.Header, headers []Header) {
	for _, hdr := range headers {
		h.Add(hdr.Name, hdr.Value)
	}
}

// RequirePrincipal creates an HTTP middleware that requires principal among the
// request's effective principals. Must be used after Policy.Middleware.
func RequirePrincipal(p *Policy, principal string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := FromContext(r.Context())
			if req == nil {
				writeJSONError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			principals := p.EffectivePrincipals(req)
			if !slices.Contains(principals, Authenticated) && principal != Everyone {
				writeJSONError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !slices.Contains(principals, principal) {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeJSONError writes {"error": message} with a JSON content type.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// responseWriter runs the Request's response callbacks before the first header write.
type responseWriter struct {
	http.ResponseWriter
	req         *Request
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.req.RunResponseCallbacks(w.ResponseWriter.Header())
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher for streaming handlers.
func (w *responseWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker. Callbacks run first so their headers are not lost silently.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("auth: underlying ResponseWriter does not support hijacking")
	}
	w.req.RunResponseCallbacks(w.ResponseWriter.Header())
	w.wroteHeader = true
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
