package model

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel is the coarse risk classification of a step or plan.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// riskOrder maps risk levels to a comparable rank.
var riskOrder = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if riskOrder[b] > riskOrder[a] {
		return b
	}
	return a
}

// SideEffect categorizes what a step does to the outside world.
type SideEffect string

const (
	SideEffectReadOnly      SideEffect = "read_only"
	SideEffectExternalWrite SideEffect = "external_write"
	SideEffectPayment       SideEffect = "payment"
	SideEffectPhysical      SideEffect = "physical"
	SideEffectDestructive   SideEffect = "destructive"
)

// Plan is the step graph generated for a run. Exactly one per run,
// immutable once created; re-planning creates a new run.
type Plan struct {
	ID            uuid.UUID `json:"id"`
	RunID         uuid.UUID `json:"run_id"`
	EstimatedCost float64   `json:"estimated_cost"`
	RiskLevel     RiskLevel `json:"risk_level"`
	CreatedAt     time.Time `json:"created_at"`
}

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusApproved  StepStatus = "approved"
	StepStatusExecuting StepStatus = "executing"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether a step in this status can never transition again.
func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// Step is one atomic unit of work within a plan. DependsOn holds the
// sequence numbers of steps that must complete before this one may start.
type Step struct {
	ID               uuid.UUID      `json:"id"`
	RunID            uuid.UUID      `json:"run_id"`
	PlanID           uuid.UUID      `json:"plan_id"`
	Seq              int            `json:"seq"`
	ActionType       string         `json:"action_type"`
	Description      string         `json:"description"`
	Parameters       map[string]any `json:"parameters"`
	DependsOn        []int          `json:"depends_on,omitempty"`
	EstimatedCost    float64        `json:"estimated_cost"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	SideEffect       SideEffect     `json:"side_effect"`
	RequiresApproval bool           `json:"requires_approval"`
	Status           StepStatus     `json:"status"`
	Result           map[string]any `json:"result,omitempty"`
	Error            *string        `json:"error,omitempty"`
	ExecutedAt       *time.Time     `json:"executed_at,omitempty"`
}
