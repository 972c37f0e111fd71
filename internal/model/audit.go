package model

import (
	"time"

	"github.com/google/uuid"
)

// ActorRole identifies which part of the system (or which human) caused
// an audited transition.
type ActorRole string

const (
	ActorPlanner  ActorRole = "planner"
	ActorExecutor ActorRole = "executor"
	ActorVerifier ActorRole = "verifier"
	ActorUser     ActorRole = "user"
)

// Audit event kinds. One constant per state transition or decision the
// compliance trail must capture.
const (
	AuditRunCreated        = "run.created"
	AuditRunStatusChanged  = "run.status_changed"
	AuditStepStatusChanged = "step.status_changed"
	AuditApprovalRequested = "approval.requested"
	AuditApprovalResolved  = "approval.resolved"
	AuditSpendRecorded     = "spend.recorded"
	AuditVerifierReport    = "verifier.report"
)

// AuditLogEntry is one append-only record of a state transition or
// decision. Entries reference runs and steps weakly: they outlive the
// run and are never mutated or deleted.
type AuditLogEntry struct {
	ID        uuid.UUID      `json:"id"`
	RunID     *uuid.UUID     `json:"run_id,omitempty"`
	StepID    *uuid.UUID     `json:"step_id,omitempty"`
	Actor     ActorRole      `json:"actor"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SpendRecord is the authoritative record of money spent by one step.
// Budget windows are computed by summing these records; at most one
// record exists per step.
type SpendRecord struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	RunID      uuid.UUID `json:"run_id"`
	StepID     uuid.UUID `json:"step_id"`
	Amount     float64   `json:"amount"`
	RecordedAt time.Time `json:"recorded_at"`
}
