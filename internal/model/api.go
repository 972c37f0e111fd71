package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxMessageLen caps the user message. Anything longer is almost
// certainly pasted garbage, and the planner's LLM backend bills by token.
const MaxMessageLen = 10_000

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Data  any          `json:"data"`
	Total int          `json:"total"`
	Meta  ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeBudgetExceeded = "BUDGET_EXCEEDED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeRateLimited    = "RATE_LIMITED"
)

// CreateRunRequest is the request body for POST /v1/runs.
type CreateRunRequest struct {
	Message string         `json:"message"`
	Mode    RunMode        `json:"mode,omitempty"` // defaults to simulation
	Context map[string]any `json:"context,omitempty"`
}

// Validate checks the request and fills defaults.
func (r *CreateRunRequest) Validate() error {
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	if len(r.Message) > MaxMessageLen {
		return fmt.Errorf("message exceeds maximum length of %d characters", MaxMessageLen)
	}
	if r.Mode == "" {
		r.Mode = ModeSimulation
	}
	if r.Mode != ModeSimulation && r.Mode != ModeExecution {
		return fmt.Errorf("mode must be %q or %q", ModeSimulation, ModeExecution)
	}
	return nil
}

// RunDetail is a run with its plan and steps, as returned by GET /v1/runs/{run_id}.
type RunDetail struct {
	Run   Run    `json:"run"`
	Plan  Plan   `json:"plan"`
	Steps []Step `json:"steps"`
}

// ResolveApprovalRequest is the request body for approve/reject endpoints.
type ResolveApprovalRequest struct {
	Notes string `json:"notes,omitempty"`
}

// ApproveAllResult reports the partial-success outcome of an approve-all call.
type ApproveAllResult struct {
	RunID         uuid.UUID `json:"run_id"`
	ApprovedCount int       `json:"approved_count"`
	FailedCount   int       `json:"failed_count"`
	Errors        []string  `json:"errors,omitempty"`
}

// VerificationReport is the verifier's summary for a run.
type VerificationReport struct {
	RunID       uuid.UUID `json:"run_id"`
	Verified    bool      `json:"verified"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	NotExecuted int       `json:"not_executed"`
	Issues      []string  `json:"issues,omitempty"`
}

// BudgetSummary reports a user's spend against the configured ceilings.
type BudgetSummary struct {
	DailySpent       float64 `json:"daily_spent"`
	DailyLimit       float64 `json:"daily_limit"`
	DailyRemaining   float64 `json:"daily_remaining"`
	MonthlySpent     float64 `json:"monthly_spent"`
	MonthlyLimit     float64 `json:"monthly_limit"`
	MonthlyRemaining float64 `json:"monthly_remaining"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Store    string `json:"store"`
	EventBus string `json:"event_bus"`
	Uptime   int64  `json:"uptime_seconds"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
