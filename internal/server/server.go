// Package server exposes the read-only status API and WebSocket hub.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kordes/polymirror/internal/domain"
	"github.com/kordes/polymirror/internal/server/handler"
	"github.com/kordes/polymirror/internal/server/middleware"
	"github.com/kordes/polymirror/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port          int
	CORSOrigins   []string
	APIKey        string // if empty, authentication is disabled
	RatePerMinute int    // per-client request budget; 0 disables rate limiting
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Audit and Archives may be nil; their routes are skipped when the backing
// store is not configured.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Accounts *handler.AccountHandler
	Audit    *handler.AuditHandler
	Archives *handler.ArchiveHandler
}

// Server is the read-only HTTP + WebSocket status API. There are no write
// endpoints; the ledger mutates only through the copier and the resolution
// detector.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, auth, logging, CORS) and attaches
// the WebSocket hub. The limiter may be nil, which disables rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Runtime status.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Ledger endpoints.
	mux.HandleFunc("GET /api/accounts", handlers.Accounts.ListAccounts)
	mux.HandleFunc("GET /api/accounts/{key}/positions", handlers.Accounts.ListPositions)
	mux.HandleFunc("GET /api/accounts/{key}/closed", handlers.Accounts.ListClosed)
	mux.HandleFunc("GET /api/accounts/{key}/resolved", handlers.Accounts.ListResolved)
	mux.HandleFunc("GET /api/accounts/{key}/pnl", handlers.Accounts.GetPnL)
	mux.HandleFunc("GET /api/accounts/{key}/stats", handlers.Accounts.GetStats)

	// Audit log, Postgres backend only.
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	}

	// Cold-storage browsing, only with object storage configured.
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.Download)
		mux.HandleFunc("HEAD /api/archives/{path...}", handlers.Archives.Head)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain. Requests flow CORS -> logging -> auth ->
	// rate limit -> mux, so unauthorized requests never consume budget.
	var h http.Handler = mux
	if limiter != nil && cfg.RatePerMinute > 0 {
		h = middleware.RateLimit(limiter, cfg.RatePerMinute, time.Minute)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wired handler chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
