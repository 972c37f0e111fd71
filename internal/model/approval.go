package model

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalScope indicates whether an approval gates one step or the whole plan.
type ApprovalScope string

const (
	ScopeStep ApprovalScope = "step"
	ScopePlan ApprovalScope = "plan"
)

// ApprovalStatus represents the lifecycle state of an approval.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// Approval is a human gate blocking progression of a plan or step pending
// an explicit reviewer decision. At most one pending approval exists per
// (run, step) pair; resolution is reviewer-only.
type Approval struct {
	ID          uuid.UUID      `json:"id"`
	RunID       uuid.UUID      `json:"run_id"`
	StepID      *uuid.UUID     `json:"step_id,omitempty"` // nil for plan-scoped approvals.
	Scope       ApprovalScope  `json:"scope"`
	Reason      string         `json:"reason"`
	Status      ApprovalStatus `json:"status"`
	RequestedBy uuid.UUID      `json:"requested_by"`
	ReviewedBy  *uuid.UUID     `json:"reviewed_by,omitempty"`
	Notes       *string        `json:"notes,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// Resolved reports whether the approval has left the pending state.
func (a Approval) Resolved() bool {
	return a.Status != ApprovalStatusPending
}
