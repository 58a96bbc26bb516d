// Package auth implements ticket-based authentication for ticketd.
//
// # Collaborators
//
// A Policy never holds per-user state. For every inbound request it resolves:
//
//   - TicketSource: reads the (principal, ticket) pair from the request, for
//     example a signed cookie or a bearer token, and builds the response headers
//     that store or clear it.
//   - Backend: verifies the pair against the ticket store and reports groups.
//     Verification is lazy and tracked as a tri-state Verification.
//   - Session (optional): server-side key/value state that is rotated on login.
//
// These are bundled in a Request, which the Middleware attaches to the request
// context:
//
//	policy, err := auth.NewPolicy(auth.Config{
//		Sources:  sources.Source,
//		Backends: tickets.Backend,
//		Sessions: sessions.Load,
//	})
//	handler := policy.Middleware(mux)
//
// # Principals
//
// EffectivePrincipals always starts with Everyone. When a ticket verifies, it
// continues with Authenticated, the userid, and the user's groups in the order
// the backend reports them.
//
// # Login and Logout
//
// Remember issues a fresh 256-bit ticket and returns headers for the caller to
// add to the response. Logging in as a different user discards the session;
// logging in again as the same user keeps the session data under a new session
// id and CSRF token. Forget removes the ticket and reports a distinct error when
// the ticket was already gone.
//
// UnauthenticatedUserID always reports no user.
package auth
