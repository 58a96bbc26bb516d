// ABOUTME: Ticket-based authentication policy mediating ticket sources and auth backends
// ABOUTME: Resolves userids lazily, computes effective principals, and issues/revokes tickets

package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Pseudo-principals present on every request.
const (
	// Everyone is present for every request, authenticated or not.
	Everyone = "system.Everyone"
	// Authenticated is present when a real userid was resolved.
	Authenticated = "system.Authenticated"
)

// Policy errors
var (
	ErrMissingCollaborator = errors.New("ticket source and backend factories are required")
	ErrEmptyPrincipal      = errors.New("principal must not be empty")
	ErrTicketIssuance      = errors.New("ticket issuance failed")
	ErrTicketNotFound      = errors.New("ticket was not removed")
)

// Outcome labels passed to a Recorder.
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeAnonymous     = "anonymous"
	OutcomeError         = "error"
	OutcomeSuccess       = "success"
	OutcomeFailure       = "failure"
	OutcomeTicketMissing = "ticket_missing"
)

// Recorder observes policy outcomes. metrics.Metrics implements it.
type Recorder interface {
	RecordVerification(outcome string)
	RecordLogin(outcome string)
	RecordLogout(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordVerification(string) {}
func (nopRecorder) RecordLogin(string)        {}
func (nopRecorder) RecordLogout(string)       {}

// Extra is an optional keyword argument to Remember. The default policy
// accepts and ignores extras.
type Extra struct {
	Key   string
	Value any
}

// Config configures a Policy.
type Config struct {
	Sources  SourceFactory
	Backends BackendFactory
	// Sessions is optional. When nil, Remember and Forget skip session handling.
	Sessions SessionFactory
	Logger   *slog.Logger
	Recorder Recorder
}

// Policy is the process-wide authentication policy. It holds only factories and
// configuration; all per-user state lives in the request-scoped collaborators.
type Policy struct {
	sources     SourceFactory
	backends    BackendFactory
	sessions    SessionFactory
	haveSession bool
	logger      *slog.Logger
	recorder    Recorder
}

// NewPolicy creates a Policy. Session support is fixed at construction.
func NewPolicy(cfg Config) (*Policy, error) {
	if cfg.Sources == nil || cfg.Backends == nil {
		return nil, ErrMissingCollaborator
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var recorder Recorder = nopRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}

	return &Policy{
		sources:     cfg.Sources,
		backends:    cfg.Backends,
		sessions:    cfg.Sessions,
		haveSession: cfg.Sessions != nil,
		logger:      logger.With("component", "auth"),
		recorder:    recorder,
	}, nil
}

// HaveSession reports whether a session mechanism is configured.
func (p *Policy) HaveSession() bool {
	return p.haveSession
}

// NewRequest resolves the collaborators for r. Session data is loaded once here
// and committed by a response callback when the session supports it.
func (p *Policy) NewRequest(r *http.Request) (*Request, error) {
	req := NewRequest(r, p.sources(r), p.backends(r), nil)

	if p.haveSession {
		sess, err := p.sessions(r)
		if err != nil {
			return nil, fmt.Errorf("loading session: %w", err)
		}
		req.Session = sess

		if c, ok := sess.(SessionCommitter); ok {
			ctx := r.Context()
			req.AddResponseCallback(func(h http.Header) {
				if err := c.Commit(ctx, h); err != nil {
					p.logger.Error("failed to commit session", "error", err)
				}
			})
		}
	}

	return req, nil
}

// UnauthenticatedUserID is intentionally unsupported: a userid read without
// verifying the ticket would bypass the ticket check.
func (p *Policy) UnauthenticatedUserID(req *Request) (string, bool) {
	return "", false
}

// AuthenticatedUserID returns the verified userid for the request, triggering
// ticket verification on first use. Verification problems resolve to no user.
func (p *Policy) AuthenticatedUserID(req *Request) (string, bool) {
	req.addVary(req.Source.Vary())

	v := req.Backend.UserID()
	if v.State == StateUnverified {
		// Verify even when both are empty so the backend leaves StateUnverified
		principal, ticket := req.Source.Value()
		err := req.Backend.VerifyTicket(req.Context(), principal, ticket)

		v = req.Backend.UserID()
		switch {
		case err != nil:
			p.logger.Warn("ticket verification failed", "error", err)
			p.recorder.RecordVerification(OutcomeError)
		case v.State == StateVerified && v.UserID != "":
			p.recorder.RecordVerification(OutcomeAuthenticated)
		default:
			p.recorder.RecordVerification(OutcomeAnonymous)
		}
	}

	if v.State != StateVerified || v.UserID == "" {
		return "", false
	}
	return v.UserID, true
}

// EffectivePrincipals returns [Everyone], plus Authenticated, the userid and the
// backend's groups when a real userid is resolved.
func (p *Policy) EffectivePrincipals(req *Request) []string {
	principals := []string{Everyone}

	userid, ok := p.AuthenticatedUserID(req)
	if !ok {
		return principals
	}
	if userid == Authenticated || userid == Everyone {
		return principals
	}

	principals = append(principals, Authenticated, userid)

	groups, err := req.Backend.Groups(req.Context())
	if err != nil {
		p.logger.Warn("failed to load groups", "userid", userid, "error", err)
		return principals
	}
	return append(principals, groups...)
}

// Remember issues a new ticket for principal and returns the headers that hand
// it to the client. The caller attaches the headers to the response.
func (p *Policy) Remember(req *Request, principal string, extras ...Extra) ([]Header, error) {
	if principal == "" {
		p.recorder.RecordLogin(OutcomeFailure)
		return nil, ErrEmptyPrincipal
	}
	if len(extras) > 0 {
		p.logger.Debug("ignoring remember extras", "count", len(extras))
	}

	prevUserID, hadPrev := p.AuthenticatedUserID(req)

	ticket, err := GenerateTicket()
	if err != nil {
		p.recorder.RecordLogin(OutcomeFailure)
		return nil, err
	}

	if err := req.Backend.AddTicket(req.Context(), principal, ticket); err != nil {
		p.recorder.RecordLogin(OutcomeFailure)
		return nil, fmt.Errorf("%w: %w", ErrTicketIssuance, err)
	}

	if p.haveSession && req.Session != nil {
		if err := p.rotateSession(req, !hadPrev || prevUserID != principal); err != nil {
			p.withdrawTicket(req, principal, ticket)
			p.recorder.RecordLogin(OutcomeFailure)
			return nil, err
		}
	}

	headers, err := req.Source.HeadersRemember(principal, ticket)
	if err != nil {
		p.withdrawTicket(req, principal, ticket)
		p.recorder.RecordLogin(OutcomeFailure)
		return nil, fmt.Errorf("building remember headers: %w", err)
	}

	p.recorder.RecordLogin(OutcomeSuccess)
	p.logger.Info("issued ticket", "userid", principal, "relogin", hadPrev && prevUserID == principal)
	return headers, nil
}

// withdrawTicket removes a ticket that Remember stored but never handed to the client.
func (p *Policy) withdrawTicket(req *Request, principal, ticket string) {
	if _, err := req.Backend.RemoveTicket(req.Context(), ticket); err != nil {
		p.logger.Warn("failed to withdraw unissued ticket", "userid", principal, "error", err)
	}
}

// rotateSession discards the session on identity change, or keeps its data under
// a new identifier and anti-forgery token when the same user logs in again.
func (p *Policy) rotateSession(req *Request, identityChanged bool) error {
	ctx := req.Context()

	if identityChanged {
		if err := req.Session.Invalidate(ctx); err != nil {
			return fmt.Errorf("invalidating session: %w", err)
		}
		return nil
	}

	data := req.Session.Items()
	if err := req.Session.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidating session: %w", err)
	}
	req.Session.Update(data)
	if _, err := req.Session.NewCSRFToken(); err != nil {
		return fmt.Errorf("rotating csrf token: %w", err)
	}
	return nil
}

// Forget removes the request's ticket, invalidates the session, and returns the
// headers that clear the client's pair. Headers are returned even when an error
// is reported so the caller can still clear the client state.
func (p *Policy) Forget(req *Request) ([]Header, error) {
	ctx := req.Context()
	req.addVary(req.Source.Vary())

	var errs []error

	_, ticket := req.Source.Value()
	removed, err := req.Backend.RemoveTicket(ctx, ticket)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("removing ticket: %w", err))
		p.recorder.RecordLogout(OutcomeError)
	case !removed:
		errs = append(errs, ErrTicketNotFound)
		p.recorder.RecordLogout(OutcomeTicketMissing)
	default:
		p.recorder.RecordLogout(OutcomeSuccess)
	}

	if p.haveSession && req.Session != nil {
		if err := req.Session.Invalidate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("invalidating session: %w", err))
		}
	}

	return req.Source.HeadersForget(), errors.Join(errs...)
}
