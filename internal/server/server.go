// Package server accepts sessions on a transport listener and runs each one
// as a task on a bounded worker pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-git/go-billy/v5"
	"golang.org/x/sync/errgroup"

	"github.com/sheerbytes/paceline/internal/config"
	"github.com/sheerbytes/paceline/internal/metrics"
	"github.com/sheerbytes/paceline/internal/registry"
	"github.com/sheerbytes/paceline/internal/session"
	"github.com/sheerbytes/paceline/internal/transfer"
	"github.com/sheerbytes/paceline/internal/transport"
	"github.com/sheerbytes/paceline/internal/workerpool"
)

const statusShutdownTimeout = 5 * time.Second

// Server owns the worker pool, the live session set and the engine every
// session runs through.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	fs       billy.Filesystem
	registry *registry.Registry
	engine   *transfer.Engine
	pool     *workerpool.Pool
	sessions *session.Store
	metrics  *metrics.Metrics
	limiter  *ipLimiter
	now      func() time.Time

	statusMu   sync.Mutex
	statusAddr net.Addr

	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger (default slog.Default).
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithFilesystem replaces the storage root, e.g. with an in-memory
// filesystem in tests. cfg.Root is ignored.
func WithFilesystem(fsys billy.Filesystem) Option {
	return func(s *Server) { s.fs = fsys }
}

// WithRegistry sets the active-transfer registry (default registry.Default).
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithClock sets the clock used to name files stored without a path.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds a server from cfg. Nothing listens until Run or Serve.
func New(cfg config.ServerConfig, opts ...Option) (*Server, error) {
	engineCfg, err := cfg.Transfer.EngineConfig()
	if err != nil {
		return nil, fmt.Errorf("transfer config: %w", err)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = config.DefaultShutdown
	}
	if cfg.DefaultFile == "" {
		cfg.DefaultFile = config.DefaultDefaultFile
	}

	s := &Server{
		cfg:      cfg,
		logger:   slog.Default(),
		sessions: session.NewStore(),
		limiter:  newIPLimiter(cfg.ConnectRate, cfg.ConnectBurst),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fs == nil {
		s.fs = transfer.RootedFS(cfg.Root)
	}
	if s.registry == nil {
		s.registry = registry.Default
	}

	s.pool = workerpool.New(cfg.Workers, s.logger)
	s.metrics = metrics.New(metrics.Gauges{
		ActiveTransfers: s.registry.Current,
		QueueLen:        s.pool.QueueLen,
		BusyWorkers:     s.pool.Busy,
		LiveSessions:    s.sessions.Len,
	})
	s.engine = transfer.New(engineCfg,
		transfer.WithRegistry(s.registry),
		transfer.WithFilesystem(s.fs),
		transfer.WithLogger(s.logger),
		transfer.WithObserver(s.metrics),
	)
	return s, nil
}

// Engine returns the engine sessions run through.
func (s *Server) Engine() *transfer.Engine { return s.engine }

// Metrics returns the server's collectors.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Sessions returns the live session set.
func (s *Server) Sessions() *session.Store { return s.sessions }

// StatusAddr returns the bound status HTTP address once Serve has started
// it, or nil.
func (s *Server) StatusAddr() net.Addr {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.statusAddr
}

// Run listens on the configured transport and address and serves until ctx
// is done.
func (s *Server) Run(ctx context.Context) error {
	l, err := transport.Listen(ctx, s.cfg.Transport, s.cfg.Addr, transport.Options{Logger: s.logger})
	if err != nil {
		s.Shutdown()
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts sessions on every listener until ctx is done, then closes the
// listeners and shuts the pool down. Sessions already accepted run to
// completion unless ShutdownTimeout passes first, in which case their
// connections are closed.
func (s *Server) Serve(ctx context.Context, listeners ...transport.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, l := range listeners {
		s.logger.Info("server listening", "network", l.Network(), "addr", l.Addr(), "workers", s.pool.Size())
		g.Go(func() error { return s.acceptLoop(gctx, l) })
	}

	var status *http.Server
	if s.cfg.HTTPAddr != "" {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", s.cfg.HTTPAddr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			s.Shutdown()
			return fmt.Errorf("listen status %s: %w", s.cfg.HTTPAddr, err)
		}
		s.statusMu.Lock()
		s.statusAddr = ln.Addr()
		s.statusMu.Unlock()

		status = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
		s.logger.Info("status endpoint listening", "addr", ln.Addr())
		g.Go(func() error {
			if err := status.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		for _, l := range listeners {
			_ = l.Close()
		}
		if status != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
			defer cancel()
			_ = status.Shutdown(shutdownCtx)
		}
		return nil
	})

	err := g.Wait()
	s.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown drains the worker pool. If sessions are still running after
// ShutdownTimeout they are aborted so the workers can exit and their peers
// see the transfer fail.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			s.pool.Shutdown()
			close(done)
		}()

		timer := time.NewTimer(s.cfg.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			n := s.sessions.AbortAll()
			s.logger.Warn("shutdown timeout, aborting live sessions", "sessions", n)
			<-done
		}
		s.logger.Info("server stopped")
	})
}

func (s *Server) acceptLoop(ctx context.Context, l transport.Listener) error {
	retry := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(5*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	for {
		stream, remote, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrListenerClosed) {
				return fmt.Errorf("%s listener closed unexpectedly: %w", l.Network(), err)
			}
			wait := retry.NextBackOff()
			s.logger.Warn("accept failed", "network", l.Network(), "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		retry.Reset()
		s.admit(stream, remote, l.Network())
	}
}

// admit registers the connection and queues it, or closes it if the server
// cannot take it.
func (s *Server) admit(stream transfer.Stream, remote net.Addr, network string) {
	if !s.limiter.Allow(remote) {
		s.reject(stream, remote, "connect rate exceeded")
		return
	}
	if s.cfg.MaxSessions > 0 && s.sessions.Len() >= s.cfg.MaxSessions {
		s.reject(stream, remote, "session limit reached")
		return
	}

	sess := session.New(stream, remote, network)
	s.sessions.Add(sess)
	if err := s.pool.Enqueue(&sessionTask{server: s, sess: sess}); err != nil {
		s.sessions.Remove(sess.ID)
		_ = sess.Close()
		s.metrics.SessionRejected()
		s.logger.Warn("session rejected", append(sess.LogAttrs(), "error", err)...)
		return
	}
	s.logger.Debug("session queued", append(sess.LogAttrs(), "queued", s.pool.QueueLen())...)
}

func (s *Server) reject(stream transfer.Stream, remote net.Addr, reason string) {
	_ = stream.Close()
	s.metrics.SessionRejected()
	s.logger.Warn("connection rejected", "remote", remote, "reason", reason)
}
