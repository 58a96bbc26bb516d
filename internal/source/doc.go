// Package source provides the ticket sources ticketd reads (principal, ticket)
// pairs from: a signed cookie for browsers and a bearer JWT for API clients.
//
// Each profile is built once from configuration and exposes a Source method
// usable as an auth.SourceFactory. ChainFactory combines them so browsers and
// API clients share one policy.
package source
