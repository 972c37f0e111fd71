// Package engine owns the run lifecycle: plan creation, the approval
// workflow, dispatching steps to connectors, and verification. All
// state transitions flow through the store first; audit entries and
// live events follow the persisted transition and never precede it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/budget"
	"github.com/harborline/steward/internal/connector"
	"github.com/harborline/steward/internal/events"
	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/planner"
	"github.com/harborline/steward/internal/policy"
	"github.com/harborline/steward/internal/store"
	"github.com/harborline/steward/internal/telemetry"
)

// ErrForbidden is returned when a caller acts on a run they do not own.
var ErrForbidden = errors.New("engine: forbidden")

// ConflictError reports an operation that is invalid in the entity's
// current state, such as executing a run that is not approved.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "engine: conflict: " + e.Reason }

var engineMeter = telemetry.Meter("steward/engine")

// Options tune engine behavior. Zero fields fall back to defaults.
type Options struct {
	// ApprovalTTL is how long a pending approval stays actionable.
	ApprovalTTL time.Duration
	// StepTimeout bounds a single connector execution.
	StepTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ApprovalTTL <= 0 {
		o.ApprovalTTL = 24 * time.Hour
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = 2 * time.Minute
	}
	return o
}

// Service coordinates the run lifecycle end to end.
type Service struct {
	store    store.Store
	planner  *planner.Planner
	registry *connector.Registry
	ledger   *budget.Ledger
	bus      *events.Bus
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	runLocks map[uuid.UUID]*sync.Mutex
}

func New(st store.Store, pl *planner.Planner, reg *connector.Registry, ledger *budget.Ledger, bus *events.Bus, opts Options, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		planner:  pl,
		registry: reg,
		ledger:   ledger,
		bus:      bus,
		opts:     opts.withDefaults(),
		logger:   logger,
		runLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// runLock serializes mutations of one run. Step order within a run
// matters, so execution and approval resolution for the same run never
// interleave.
func (s *Service) runLock(runID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.runLocks[runID]
	if !ok {
		m = &sync.Mutex{}
		s.runLocks[runID] = m
	}
	return m
}

// recordAudit appends an audit entry with a few retries. Audit writes
// never roll back the state change they describe; a write that still
// fails after retries is logged and counted, and the engine keeps
// going in degraded mode.
func (s *Service) recordAudit(ctx context.Context, e model.AuditLogEntry) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		if err = s.store.InsertAudit(ctx, e); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			continue
		}
		break
	}
	s.logger.Error("audit write failed, continuing degraded",
		"kind", e.Kind, "run_id", e.RunID, "error", err)
	if counter, cerr := engineMeter.Int64Counter("engine.audit_failures"); cerr == nil {
		counter.Add(ctx, 1)
	}
}

func newAudit(runID uuid.UUID, stepID *uuid.UUID, actor model.ActorRole, kind, message string, metadata map[string]any) model.AuditLogEntry {
	rid := runID
	return model.AuditLogEntry{
		ID:        uuid.New(),
		RunID:     &rid,
		StepID:    stepID,
		Actor:     actor,
		Kind:      kind,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}

// publish pushes a live event. Best effort; subscribers that lost it
// catch up through the replay window.
func (s *Service) publish(userID, runID uuid.UUID, stepID *uuid.UUID, typ model.EventType, payload map[string]any) {
	s.bus.Publish(model.Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		RunID:     runID,
		StepID:    stepID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// setRunStatus persists a run status change, then audits and publishes
// it.
func (s *Service) setRunStatus(ctx context.Context, run *model.Run, status model.RunStatus, errMsg *string) error {
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	if err := s.store.UpdateRunStatus(ctx, run.ID, status, errMsg, completedAt); err != nil {
		return fmt.Errorf("engine: update run status: %w", err)
	}
	prev := run.Status
	run.Status = status
	run.Error = errMsg
	run.CompletedAt = completedAt

	s.recordAudit(ctx, newAudit(run.ID, nil, model.ActorExecutor, model.AuditRunStatusChanged,
		fmt.Sprintf("run %s -> %s", prev, status), map[string]any{"from": string(prev), "to": string(status)}))
	s.publish(run.OwnerID, run.ID, nil, model.EventRunStatusChanged, map[string]any{
		"status": string(status),
	})
	if status.Terminal() {
		s.publish(run.OwnerID, run.ID, nil, model.EventRunCompleted, map[string]any{
			"status": string(status),
		})
	}
	return nil
}

// setStepStatus persists a step change, then audits and publishes it.
func (s *Service) setStepStatus(ctx context.Context, run model.Run, step *model.Step, status model.StepStatus, stepErr *string) error {
	prev := step.Status
	step.Status = status
	step.Error = stepErr
	if status == model.StepStatusCompleted || status == model.StepStatusFailed {
		now := time.Now().UTC()
		step.ExecutedAt = &now
	}
	if err := s.store.UpdateStep(ctx, *step); err != nil {
		return fmt.Errorf("engine: update step: %w", err)
	}

	s.recordAudit(ctx, newAudit(run.ID, &step.ID, model.ActorExecutor, model.AuditStepStatusChanged,
		fmt.Sprintf("step %d %s -> %s", step.Seq, prev, status),
		map[string]any{"seq": step.Seq, "from": string(prev), "to": string(status)}))
	payload := map[string]any{"seq": step.Seq, "status": string(status)}
	if stepErr != nil {
		payload["error"] = *stepErr
	}
	s.publish(run.OwnerID, run.ID, &step.ID, model.EventStepStatusChanged, payload)
	return nil
}

// authorizeRun loads the run and checks the caller may act on it.
// Admins may act on any run.
func (s *Service) authorizeRun(ctx context.Context, caller model.User, runID uuid.UUID) (model.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return model.Run{}, err
	}
	if run.OwnerID != caller.ID && caller.Role != model.RoleAdmin {
		return model.Run{}, ErrForbidden
	}
	return run, nil
}

// GetRun returns the run with its plan and steps.
func (s *Service) GetRun(ctx context.Context, caller model.User, runID uuid.UUID) (model.RunDetail, error) {
	run, err := s.authorizeRun(ctx, caller, runID)
	if err != nil {
		return model.RunDetail{}, err
	}
	plan, err := s.store.GetPlan(ctx, runID)
	if err != nil {
		return model.RunDetail{}, err
	}
	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return model.RunDetail{}, err
	}
	return model.RunDetail{Run: run, Plan: plan, Steps: steps}, nil
}

// ListRunSteps returns the run's steps in sequence order.
func (s *Service) ListRunSteps(ctx context.Context, caller model.User, runID uuid.UUID) ([]model.Step, error) {
	if _, err := s.authorizeRun(ctx, caller, runID); err != nil {
		return nil, err
	}
	return s.store.ListSteps(ctx, runID)
}

// RunAudit returns the run's audit trail.
func (s *Service) RunAudit(ctx context.Context, caller model.User, runID uuid.UUID) ([]model.AuditLogEntry, error) {
	if _, err := s.authorizeRun(ctx, caller, runID); err != nil {
		return nil, err
	}
	return s.store.ListAuditByRun(ctx, runID)
}

// Budget returns the caller's spend against the configured ceilings.
func (s *Service) Budget(ctx context.Context, caller model.User) (model.BudgetSummary, error) {
	return s.ledger.Summary(ctx, caller.ID)
}

// CreateRun plans a new run from the request message. The run lands in
// pending when any step is gated on approval, otherwise in approved
// and ready to execute.
func (s *Service) CreateRun(ctx context.Context, caller model.User, req model.CreateRunRequest) (model.RunDetail, error) {
	if err := req.Validate(); err != nil {
		return model.RunDetail{}, err
	}

	run := model.Run{
		ID:        uuid.New(),
		OwnerID:   caller.ID,
		Message:   policy.SanitizeMessage(req.Message),
		Mode:      req.Mode,
		Status:    model.RunStatusPlanning,
		CreatedAt: time.Now().UTC(),
	}

	plan, steps, err := s.planner.BuildPlan(ctx, run)
	if err != nil {
		return model.RunDetail{}, fmt.Errorf("engine: plan run: %w", err)
	}

	now := time.Now().UTC()
	var approvals []model.Approval
	for _, st := range steps {
		if !st.RequiresApproval {
			continue
		}
		stepID := st.ID
		expires := now.Add(s.opts.ApprovalTTL)
		approvals = append(approvals, model.Approval{
			ID:          uuid.New(),
			RunID:       run.ID,
			StepID:      &stepID,
			Scope:       model.ScopeStep,
			Reason:      approvalReason(st),
			Status:      model.ApprovalStatusPending,
			RequestedBy: caller.ID,
			RequestedAt: now,
			ExpiresAt:   &expires,
		})
	}

	if len(approvals) > 0 {
		run.Status = model.RunStatusPending
	} else {
		run.Status = model.RunStatusApproved
	}

	if err := s.store.CreateRun(ctx, run, plan, steps, approvals); err != nil {
		return model.RunDetail{}, fmt.Errorf("engine: create run: %w", err)
	}

	s.recordAudit(ctx, newAudit(run.ID, nil, model.ActorPlanner, model.AuditRunCreated,
		"run created", map[string]any{
			"mode":           string(run.Mode),
			"steps":          len(steps),
			"risk_level":     string(plan.RiskLevel),
			"estimated_cost": plan.EstimatedCost,
		}))
	s.publish(run.OwnerID, run.ID, nil, model.EventRunCreated, map[string]any{
		"status": string(run.Status),
		"steps":  len(steps),
	})
	for _, a := range approvals {
		s.recordAudit(ctx, newAudit(run.ID, a.StepID, model.ActorPlanner, model.AuditApprovalRequested,
			a.Reason, map[string]any{"approval_id": a.ID.String()}))
		s.publish(run.OwnerID, run.ID, a.StepID, model.EventApprovalRequested, map[string]any{
			"approval_id": a.ID.String(),
			"reason":      a.Reason,
		})
	}

	return model.RunDetail{Run: run, Plan: plan, Steps: steps}, nil
}

// approvalReason renders the human-facing explanation of why a step is
// gated.
func approvalReason(st model.Step) string {
	switch {
	case st.EstimatedCost > 0:
		return fmt.Sprintf("%s step (risk %s, side effect %s) moves %.2f and requires approval",
			st.ActionType, st.RiskLevel, st.SideEffect, st.EstimatedCost)
	default:
		return fmt.Sprintf("%s step (risk %s, side effect %s) requires approval",
			st.ActionType, st.RiskLevel, st.SideEffect)
	}
}
