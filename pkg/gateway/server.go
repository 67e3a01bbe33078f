// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sipeed/picoclaw/pkg/config"
	"github.com/sipeed/picoclaw/pkg/logger"
)

// Server is the single HTTP/WebSocket entry point described in the
// component design: a fixed middleware pipeline in front of Core.
type Server struct {
	httpServer    *http.Server
	core          *Core
	wsHub         *wsHub
	ready         atomic.Bool
	startedAt     time.Time
	shutdownGrace time.Duration
}

// NewServer builds the ServeMux, wraps it in the middleware pipeline, and
// returns a Server ready for Start. net/http.ServeMux's Go 1.22+ method
// patterns ("POST /chat") are used directly rather than pulling in a router
// library the rest of the tree never imports.
func NewServer(cfg *config.GatewayConfig, core *Core) *Server {
	s := &Server{
		core:          core,
		wsHub:         newWSHub(),
		shutdownGrace: time.Duration(cfg.ShutdownGraceSeconds) * time.Second,
	}

	limiter := NewRateLimiter(cfg.RateLimitPerMinute).
		WithOverride("/chat", cfg.RateLimitPerMinute/2+1)

	commonStages := []Middleware{
		traceMiddleware,
		corsMiddleware(CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}),
		adminAuthMiddleware(cfg.AdminToken, cfg.DisableAdmin),
		limiter.Middleware,
		bodyLimitMiddleware(cfg.MaxRequestBodySize),
	}
	withTimeout := func(handler http.HandlerFunc, d time.Duration) http.Handler {
		stages := append(append([]Middleware{}, commonStages...), requestTimeoutMiddleware(d))
		return chain(handler, stages...)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", withTimeout(s.handleHealth, shortRequestTimeout))
	mux.Handle("GET /readiness", withTimeout(s.handleReadiness, shortRequestTimeout))
	mux.Handle("POST /chat", withTimeout(s.handleChat, longRequestTimeout))
	mux.Handle("GET /chat/stream", withTimeout(s.handleChatStream, longRequestTimeout))
	mux.Handle("POST /memory/search", withTimeout(s.handleMemorySearch, shortRequestTimeout))
	mux.Handle("POST /memory/update", withTimeout(s.handleMemoryUpdate, shortRequestTimeout))
	mux.Handle("POST /admin/shutdown", withTimeout(s.handleAdminShutdown, shortRequestTimeout))
	mux.Handle("POST /admin/backfill", withTimeout(s.handleAdminBackfill, shortRequestTimeout))
	mux.Handle("POST /admin/specialists/review", withTimeout(s.handleAdminReviewSpecialists, shortRequestTimeout))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	return s
}

// longRequestTimeout is the budget for the conversational routes, which may
// block on a full provider round trip. Every other route gets
// shortRequestTimeout since it only touches local state (memory store,
// health checks, admin operations).
const (
	longRequestTimeout  = 300 * time.Second
	shortRequestTimeout = 30 * time.Second
)

// ValidateStartup runs the spec's pre-bind checks: port availability,
// writable directories, required credentials. Any failure aborts startup.
func ValidateStartup(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("startup validation: %w", err)
	}
	return nil
}

// Start binds and serves until the process receives a shutdown signal or
// ctx is cancelled, then drains per Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.ready.Store(true)

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("gateway", "listening", map[string]interface{}{"addr": s.httpServer.Addr})
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting new connections, closes WebSocket clients, and
// waits up to the configured grace period for in-flight requests to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.wsHub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
