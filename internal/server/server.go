package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/harborline/steward/internal/auth"
	"github.com/harborline/steward/internal/engine"
	"github.com/harborline/steward/internal/events"
	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/ratelimit"
	"github.com/harborline/steward/internal/store"
)

// Server is the Steward HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): AuthLimiter, APILimiter, Pinger.
type ServerConfig struct {
	// Required dependencies.
	Store  store.Store
	JWTMgr *auth.JWTManager
	Engine *engine.Service
	Bus    *events.Bus
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	AuthLimiter ratelimit.Limiter // keyed by client IP, guards credential probing
	APILimiter  ratelimit.Limiter // keyed by user, guards run creation and queries
	Pinger      interface{ Ping(context.Context) error }

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	Keepalive           time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		JWTMgr:              cfg.JWTMgr,
		Engine:              cfg.Engine,
		Bus:                 cfg.Bus,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Keepalive:           cfg.Keepalive,
		Pinger:              cfg.Pinger,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	authRL := ratelimit.Middleware(cfg.AuthLimiter, ratelimit.IPKeyFunc, reqIDFunc)
	apiRL := ratelimit.Middleware(cfg.APILimiter, userKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	userRole := requireRole(model.RoleUser)

	// Run lifecycle.
	mux.Handle("POST /v1/runs", apiRL(userRole(http.HandlerFunc(h.HandleCreateRun))))
	mux.Handle("GET /v1/runs/{run_id}", apiRL(userRole(http.HandlerFunc(h.HandleGetRun))))
	mux.Handle("GET /v1/runs/{run_id}/steps", apiRL(userRole(http.HandlerFunc(h.HandleListRunSteps))))
	mux.Handle("GET /v1/runs/{run_id}/verification", apiRL(userRole(http.HandlerFunc(h.HandleVerification))))
	mux.Handle("GET /v1/runs/{run_id}/audit", apiRL(userRole(http.HandlerFunc(h.HandleRunAudit))))
	mux.Handle("POST /v1/runs/{run_id}/execute", apiRL(userRole(http.HandlerFunc(h.HandleExecuteRun))))

	// Approvals.
	mux.Handle("GET /v1/approvals", apiRL(userRole(http.HandlerFunc(h.HandleListApprovals))))
	mux.Handle("POST /v1/approvals/{approval_id}/approve", apiRL(userRole(http.HandlerFunc(h.HandleApprove))))
	mux.Handle("POST /v1/approvals/{approval_id}/reject", apiRL(userRole(http.HandlerFunc(h.HandleReject))))
	mux.Handle("POST /v1/runs/{run_id}/approvals/approve-all", apiRL(userRole(http.HandlerFunc(h.HandleApproveAll))))

	// Budget.
	mux.Handle("GET /v1/budget", apiRL(userRole(http.HandlerFunc(h.HandleBudget))))

	// Event stream (no rate limit, long-lived connection).
	mux.Handle("GET /v1/events/subscribe", userRole(http.HandlerFunc(h.HandleSubscribe)))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// userKeyFunc extracts the user ID from the request context for rate limiting.
// Returns empty string for admins (exempt from rate limits).
func userKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return claims.Subject
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
