// ABOUTME: Authentication request context for tracking identity through request handlers
// ABOUTME: Provides WithRequest/FromContext for propagating the auth Request via context

package auth

import (
	"context"
)

// requestContextKey is the key type for storing a Request in context.Context.
type requestContextKey struct{}

// WithRequest returns a new context with the Request attached.
func WithRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestContextKey{}, req)
}

// FromContext retrieves the Request from the context, returning nil if not present.
func FromContext(ctx context.Context) *Request {
	val := ctx.Value(requestContextKey{})
	if val == nil {
		return nil
	}
	req, ok := val.(*Request)
	if !ok {
		return nil
	}
	return req
}

// MustFromContext retrieves the Request from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Request {
	req := FromContext(ctx)
	if req == nil {
		panic("auth: Request not found in context")
	}
	return req
}
