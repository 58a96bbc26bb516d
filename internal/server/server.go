// ABOUTME: HTTP service wiring stores, ticket sources, sessions and the auth policy
// ABOUTME: Owns the listener lifecycle, graceful shutdown and expired-record housekeeping

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/ticketd/internal/auth"
	"github.com/2389/ticketd/internal/config"
	"github.com/2389/ticketd/internal/metrics"
	"github.com/2389/ticketd/internal/redisstore"
	"github.com/2389/ticketd/internal/session"
	"github.com/2389/ticketd/internal/source"
	"github.com/2389/ticketd/internal/store"
	"github.com/2389/ticketd/internal/ticket"
)

// Backends groups the stores a Server runs on. Tickets and Sessions may live in
// a different store than Users.
type Backends struct {
	Users    store.UserStore
	Tickets  store.TicketStore
	Sessions store.SessionStore
}

// Server is the ticketd HTTP service.
type Server struct {
	cfg        *config.Config
	backends   Backends
	metrics    *metrics.Metrics
	sessions   *session.Manager // nil when sessions are disabled
	browser    *auth.Policy
	api        *auth.Policy // nil when bearer tokens are disabled
	httpServer *http.Server
	logger     *slog.Logger

	// closers are released on Shutdown in order
	closers []namedCloser
}

type namedCloser struct {
	label  string
	closer io.Closer
}

// Open creates the stores named by cfg and returns a Server over them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	b, closers, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	srv, err := New(cfg, b, logger)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	srv.closers = closers
	return srv, nil
}

// OpenBackends opens the stores named by cfg without starting a server. The
// returned func closes them.
func OpenBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backends, func() error, error) {
	b, closers, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return Backends{}, nil, err
	}
	closeFn := func() error {
		var errs []error
		for _, c := range closers {
			errs = appendCloseError(errs, c.label, c.closer.Close())
		}
		return errors.Join(errs...)
	}
	return b, closeFn, nil
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backends, []namedCloser, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := initStore(cfg)
	if err != nil {
		return Backends{}, nil, err
	}

	b := Backends{Users: sqlStore, Tickets: sqlStore, Sessions: sqlStore}
	closers := []namedCloser{{"store close", sqlStore}}

	if cfg.Tickets.Backend == config.BackendRedis {
		rs, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Logger:   logger,
		})
		if err != nil {
			_ = sqlStore.Close()
			return Backends{}, nil, fmt.Errorf("opening redis: %w", err)
		}
		b.Tickets, b.Sessions = rs, rs
		// redis holds tickets, so close it before the user store
		closers = append([]namedCloser{{"redis close", rs}}, closers...)
	}

	return b, closers, nil
}

func closeAll(closers []namedCloser) {
	for _, c := range closers {
		_ = c.closer.Close()
	}
}

// initStore opens the SQLite store at config.DatabasePath.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(config.DatabasePath(cfg))
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New builds a Server over existing stores. The caller keeps ownership of them.
func New(cfg *config.Config, b Backends, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	s := &Server{
		cfg:      cfg,
		backends: b,
		metrics:  metrics.New(),
		logger:   logger,
	}

	cookieMaxAge := cfg.Cookie.MaxAge
	if cookieMaxAge == 0 {
		cookieMaxAge = cfg.Tickets.TTL
	}
	cookies, err := source.NewCookieProfile(source.CookieConfig{
		Name:     cfg.Cookie.Name,
		HashKey:  []byte(cfg.Cookie.Secret),
		BlockKey: []byte(cfg.Cookie.BlockKey),
		MaxAge:   cookieMaxAge,
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.Cookie.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cookie source: %w", err)
	}

	tickets := ticket.NewManager(b.Tickets, b.Users, ticket.Config{
		TTL:             cfg.Tickets.TTL,
		RefreshInterval: cfg.Tickets.RefreshInterval,
		Logger:          logger,
	})

	var sessionFactory auth.SessionFactory
	if cfg.Session.Enabled {
		s.sessions = session.NewManager(b.Sessions, session.Config{
			CookieName: cfg.Session.CookieName,
			Domain:     cfg.Cookie.Domain,
			Secure:     cfg.Cookie.Secure,
			MaxAge:     cfg.Session.MaxAge,
			Logger:     logger,
		})
		sessionFactory = s.sessions.Load
	}

	browserSources := []auth.SourceFactory{cookies.Source}
	var bearer *source.BearerProfile
	if cfg.Bearer.Enabled {
		bearer, err = source.NewBearerProfile(source.BearerConfig{
			Secret: []byte(cfg.Bearer.Secret),
			TTL:    cfg.Bearer.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("creating bearer source: %w", err)
		}
		browserSources = append(browserSources, bearer.Source)
	}

	s.browser, err = auth.NewPolicy(auth.Config{
		Sources:  source.ChainFactory(browserSources...),
		Backends: tickets.Backend,
		Sessions: sessionFactory,
		Logger:   logger,
		Recorder: s.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth policy: %w", err)
	}

	if bearer != nil {
		// Token clients have no session and receive their ticket as a bearer token
		s.api, err = auth.NewPolicy(auth.Config{
			Sources:  source.ChainFactory(bearer.Source, cookies.Source),
			Backends: tickets.Backend,
			Logger:   logger,
			Recorder: s.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("creating token policy: %w", err)
		}
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Run serves HTTP until ctx is canceled or the server fails, then shuts down.
// Returns nil after a shutdown triggered by ctx.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	housekeepingCtx, stopHousekeeping := context.WithCancel(ctx)
	defer stopHousekeeping()
	go s.runHousekeeping(housekeepingCtx)

	errCh := s.startServer(ln)
	serverErr := s.waitForShutdownSignal(ctx, errCh)
	stopHousekeeping()

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown uses a fresh context since the run context is already done.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and closes stores opened by Open.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	for _, c := range s.closers {
		errs = appendCloseError(errs, c.label, c.closer.Close())
	}
	s.closers = nil

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (s *Server) runHousekeeping(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Housekeeping.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now())
		}
	}
}

// sweep deletes tickets and sessions that expired before now.
func (s *Server) sweep(ctx context.Context, now time.Time) {
	n, err := s.backends.Tickets.DeleteExpiredTickets(ctx, now)
	if err != nil {
		s.logger.Warn("failed to delete expired tickets", "error", err)
	} else if n > 0 {
		s.logger.Info("deleted expired tickets", "count", n)
	}

	if s.sessions == nil {
		return
	}
	n, err = s.backends.Sessions.DeleteExpiredSessions(ctx, now)
	if err != nil {
		s.logger.Warn("failed to delete expired sessions", "error", err)
	} else if n > 0 {
		s.logger.Info("deleted expired sessions", "count", n)
	}
}
