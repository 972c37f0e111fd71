// Package model defines the core domain types for Steward.
//
// All types correspond directly to database tables and event payloads.
// Types use strong typing (UUIDs, time.Time, enums) and avoid interface{}
// wherever possible; step parameters and results are the deliberate
// exception since connectors define their own payload shapes.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunMode selects whether connectors perform real side effects or
// return simulated results.
type RunMode string

const (
	ModeSimulation RunMode = "simulation"
	ModeExecution  RunMode = "execution"
)

// RunStatus represents the lifecycle state of a run.
//
// Transitions are monotonic: planning → pending → approved → executing →
// completed|failed, with rejected reachable from any pre-terminal state
// via an approval rejection.
type RunStatus string

const (
	RunStatusPlanning  RunStatus = "planning"
	RunStatusPending   RunStatus = "pending"
	RunStatusApproved  RunStatus = "approved"
	RunStatusExecuting RunStatus = "executing"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusRejected  RunStatus = "rejected"
)

// Terminal reports whether a run in this status can never transition again.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusRejected
}

// Run is one end-to-end processing of a user request, from planning
// through verification. Mutated only by the engine; never deleted.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Message     string     `json:"message"`
	Mode        RunMode    `json:"mode"`
	Status      RunStatus  `json:"status"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
