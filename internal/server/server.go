// Package server implements the gateway's REST surface (spec.md §6):
// submit/poll/cancel/list requests, gateway/queue/provider snapshots,
// and liveness — plus the WebSocket upgrade route, whose connection
// handling lives in internal/wsapi.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mercator-hq/gateway/internal/backend"
	"mercator-hq/gateway/internal/events"
	"mercator-hq/gateway/internal/queue"
	"mercator-hq/gateway/internal/store"
	"mercator-hq/gateway/internal/wsapi"
)

// Config tunes the HTTP server's own surface, independent of queue or
// dispatch tunables owned elsewhere.
type Config struct {
	Host            string
	Port            int
	DefaultProvider string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORS            CORSConfig

	// MetricsPath mounts MetricsHandler at this path when both are
	// set. Left unset, no metrics route is added.
	MetricsPath    string
	MetricsHandler http.Handler

	// AuthToken, if non-empty, requires "Authorization: Bearer
	// <AuthToken>" on every request (SecurityConfig.AuthToken).
	AuthToken string

	// TLSEnabled switches Start from ListenAndServe to
	// ListenAndServeTLS using TLSCertFile/TLSKeyFile
	// (SecurityConfig.TLS).
	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
}

// DefaultConfig mirrors spec.md §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    300 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORS:            DefaultCORSConfig(),
	}
}

// Server is the gateway's HTTP surface: a thin adapter over the
// Request Queue, State Store, Backend Manager, and Event Bus that
// those components' own goroutines (Dispatch Loop, Health Monitor,
// Cleanup Loop) keep up to date independent of any request to it.
type Server struct {
	cfg      Config
	store    *store.Store
	queue    *queue.Queue
	backends *backend.Manager
	bus      *events.Bus
	log      *slog.Logger

	httpServer   *http.Server
	startedAt    time.Time
	shutdownOnce sync.Once
	mu           sync.RWMutex
	running      bool
}

// New builds a Server. Call Start to begin serving.
func New(cfg Config, st *store.Store, q *queue.Queue, backends *backend.Manager, bus *events.Bus, log *slog.Logger) *Server {
	return &Server{cfg: cfg, store: st, queue: q, backends: backends, bus: bus, log: log}
}

// Start binds and serves until ctx is cancelled, then gracefully
// drains in-flight requests for up to cfg.ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server: already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSEnabled {
			s.log.Info("starting gateway server", "address", s.httpServer.Addr, "tls", true)
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			s.log.Info("starting gateway server", "address", s.httpServer.Addr, "tls", false)
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server. Idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		running := s.running
		s.running = false
		s.mu.Unlock()
		if !running || s.httpServer == nil {
			return
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
		s.log.Info("shutting down gateway server", "timeout", s.cfg.ShutdownTimeout.String())
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("server: shutdown: %w", err)
		}
	})
	return shutdownErr
}

// setupRoutes builds the route table and wraps it in the middleware
// chain, outermost last so Recovery sees a panic from anything below
// it including Logging and CORS.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("GET /api/reply/{id}", s.handleReply)
	mux.HandleFunc("DELETE /api/request/{id}", s.handleCancelRequest)
	mux.HandleFunc("GET /api/requests", s.handleListRequests)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("GET /api/providers", s.handleProviders)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /api/ws", wsapi.NewHandler(s.bus, s.log))

	if s.cfg.MetricsPath != "" && s.cfg.MetricsHandler != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.cfg.MetricsHandler)
	}

	var handler http.Handler = mux
	handler = timeoutMiddleware(s.cfg.WriteTimeout)(handler)
	handler = authMiddleware(s.cfg.AuthToken, s.log)(handler)
	handler = corsMiddleware(s.cfg.CORS)(handler)
	handler = requestIDMiddleware(handler)
	handler = loggingMiddleware(s.log)(handler)
	handler = recoveryMiddleware(s.log)(handler)
	return handler
}

// Handler exposes the configured route table directly, mainly for
// tests that drive the server with httptest.NewServer/NewRequest
// rather than a real listening socket.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}
