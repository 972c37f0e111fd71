// Package store defines the persistence contract for the orchestration
// engine. Two implementations exist: internal/storage (Postgres, the
// reference layout) and internal/memstore (in-memory, for tests and dev
// mode). Any implementation preserving the entity set and invariants is
// conformant.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a write collides with existing state:
// a duplicate pending approval for the same target, a second spend
// record for the same step, or a status update racing a prior one.
var ErrConflict = errors.New("store: conflict")

// Store is the full persistence surface used by the engine, the budget
// ledger, and the HTTP layer.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	GetUserByName(ctx context.Context, name string) (model.User, error)

	// Runs. CreateRun persists the run, its plan, steps, and any pending
	// approvals atomically: a run is never visible without its plan.
	CreateRun(ctx context.Context, run model.Run, plan model.Plan, steps []model.Step, approvals []model.Approval) error
	GetRun(ctx context.Context, id uuid.UUID) (model.Run, error)
	GetPlan(ctx context.Context, runID uuid.UUID) (model.Plan, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status model.RunStatus, errMsg *string, completedAt *time.Time) error

	// Steps.
	GetStep(ctx context.Context, id uuid.UUID) (model.Step, error)
	ListSteps(ctx context.Context, runID uuid.UUID) ([]model.Step, error)
	UpdateStep(ctx context.Context, s model.Step) error

	// Approvals.
	GetApproval(ctx context.Context, id uuid.UUID) (model.Approval, error)
	ListApprovalsByRun(ctx context.Context, runID uuid.UUID) ([]model.Approval, error)
	ListPendingApprovalsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Approval, error)
	UpdateApproval(ctx context.Context, a model.Approval) error

	// Audit log. Append-only; entries are never mutated or deleted.
	InsertAudit(ctx context.Context, e model.AuditLogEntry) error
	ListAuditByRun(ctx context.Context, runID uuid.UUID) ([]model.AuditLogEntry, error)

	// Spend records. InsertSpend returns ErrConflict when a record for
	// the same step already exists (at-most-once per step).
	InsertSpend(ctx context.Context, rec model.SpendRecord) error
	SumSpend(ctx context.Context, userID uuid.UUID, from time.Time) (float64, error)
}
