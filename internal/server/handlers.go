package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/auth"
	"github.com/harborline/steward/internal/budget"
	"github.com/harborline/steward/internal/engine"
	"github.com/harborline/steward/internal/events"
	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/store"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               store.Store
	jwtMgr              *auth.JWTManager
	engine              *engine.Service
	bus                 *events.Bus
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	keepalive           time.Duration
	// pinger reports store connectivity for /health. Nil means the store
	// has no connection to check (in-memory mode).
	pinger interface{ Ping(context.Context) error }
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Pinger.
type HandlersDeps struct {
	Store               store.Store
	JWTMgr              *auth.JWTManager
	Engine              *engine.Service
	Bus                 *events.Bus
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	Keepalive           time.Duration
	Pinger              interface{ Ping(context.Context) error }
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	if d.Keepalive <= 0 {
		d.Keepalive = 15 * time.Second
	}
	return &Handlers{
		store:               d.Store,
		jwtMgr:              d.JWTMgr,
		engine:              d.Engine,
		bus:                 d.Bus,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		keepalive:           d.Keepalive,
		pinger:              d.Pinger,
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name and api_key are required")
		return
	}

	user, err := h.store.GetUserByName(r.Context(), req.Name)
	if err != nil {
		// Burn comparable time so a missing user is indistinguishable
		// from a wrong key.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, user.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "memory"
	status := "healthy"
	httpStatus := http.StatusOK

	if h.pinger != nil {
		storeStatus = "connected"
		if err := h.pinger.Ping(r.Context()); err != nil {
			storeStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Store:    storeStatus,
		EventBus: "running",
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// SeedAdmin creates the initial admin user if none exists.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	if adminAPIKey == "" {
		if _, err := h.store.GetUserByName(ctx, "admin"); err == nil {
			return nil
		}
		return fmt.Errorf("seed admin: STEWARD_ADMIN_API_KEY is empty and no admin exists; set it to bootstrap initial access")
	}

	if _, err := h.store.GetUserByName(ctx, "admin"); err == nil {
		h.logger.Info("admin user exists, skipping seed")
		return nil
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}

	err = h.store.CreateUser(ctx, model.User{
		ID:         uuid.New(),
		Name:       "admin",
		Role:       model.RoleAdmin,
		APIKeyHash: hash,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("seed admin: create user: %w", err)
	}

	h.logger.Info("seeded initial admin user")
	return nil
}

// writeInternalError logs the error and responds with a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// writeEngineError maps engine and store errors to the standard envelope.
func (h *Handlers) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *engine.ConflictError
	var budgetErr *budget.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	case errors.Is(err, engine.ErrForbidden):
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "not allowed")
	case errors.As(err, &conflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, conflict.Reason)
	case errors.As(err, &budgetErr):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeBudgetExceeded, budgetErr.Error())
	default:
		h.writeInternalError(w, r, "internal error", err)
	}
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	runIDStr := r.PathValue("run_id")
	if runIDStr == "" {
		return uuid.Nil, fmt.Errorf("run_id is required")
	}
	id, err := uuid.Parse(runIDStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run_id: %s", runIDStr)
	}
	return id, nil
}

func parseApprovalID(r *http.Request) (uuid.UUID, error) {
	s := r.PathValue("approval_id")
	if s == "" {
		return uuid.Nil, fmt.Errorf("approval_id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid approval_id: %s", s)
	}
	return id, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339 format (e.g. 2026-01-01T00:00:00Z)", key)
	}
	return &t, nil
}
