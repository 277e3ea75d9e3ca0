// Package api exposes the assistant over HTTP: the streaming and
// non-streaming turn endpoints, the session REST surface, and health probes.
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: recovery, request id, logging, CORS
//   - ratelimit.go: per-IP token bucket rate limiting
//   - health.go: liveness and readiness probes
//   - session.go: session management endpoints
//   - assistant.go: assistant turn endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldops/assistant/internal/agent"
	"github.com/fieldops/assistant/internal/log"
	"github.com/fieldops/assistant/internal/session"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections. There is no WriteTimeout: SSE responses stay
	// open for the whole turn.
	IdleTimeout = 120 * time.Second

	// defaultRatePerSecond refills each IP's token bucket.
	defaultRatePerSecond = 5
)

// ServerConfig tunes a Server.
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
	TrustProxy  bool
	RateBurst   int
}

// Server is the HTTP server for the assistant API.
type Server struct {
	mux    *http.ServeMux
	cfg    ServerConfig
	logger log.Logger

	health    *HealthHandler
	session   *SessionHandler
	assistant *AssistantHandler
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(a *agent.Agent, store *session.Store, pool *pgxpool.Pool, cfg ServerConfig, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		cfg:       cfg,
		logger:    logger,
		health:    NewHealthHandler(pool, logger),
		session:   NewSessionHandler(store, logger),
		assistant: NewAssistantHandler(a, logger),
	}

	s.health.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.assistant.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → request id → user → logging → CORS → rate limit.
func (s *Server) Handler() http.Handler {
	burst := s.cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	rl := newRateLimiter(defaultRatePerSecond, burst)

	return chain(s.mux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware,
		userMiddleware,
		loggingMiddleware(s.logger),
		corsMiddleware(s.cfg.CORSOrigins),
		rateLimitMiddleware(rl, s.cfg.TrustProxy, s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
