package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/budget"
	"github.com/harborline/steward/internal/connector"
	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/policy"
)

// ExecuteRun dispatches an approved run's steps in sequence order and
// settles the run's terminal status. Steps run one at a time; a step
// failure fails the run but later independent steps still execute.
func (s *Service) ExecuteRun(ctx context.Context, caller model.User, runID uuid.UUID) (model.RunDetail, error) {
	run, err := s.authorizeRun(ctx, caller, runID)
	if err != nil {
		return model.RunDetail{}, err
	}

	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent execute may have started.
	run, err = s.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunDetail{}, err
	}
	switch run.Status {
	case model.RunStatusApproved:
	case model.RunStatusPending:
		return model.RunDetail{}, &ConflictError{Reason: "run has pending approvals"}
	case model.RunStatusExecuting:
		return model.RunDetail{}, &ConflictError{Reason: "run is already executing"}
	default:
		return model.RunDetail{}, &ConflictError{Reason: fmt.Sprintf("run is %s", run.Status)}
	}

	if err := s.setRunStatus(ctx, &run, model.RunStatusExecuting, nil); err != nil {
		return model.RunDetail{}, err
	}

	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return model.RunDetail{}, err
	}

	completed := make(map[int]map[string]any)
	for i := range steps {
		st := &steps[i]
		if st.Status.Terminal() {
			if st.Status == model.StepStatusCompleted {
				completed[st.Seq] = st.Result
			}
			continue
		}
		s.executeStep(ctx, run, st, steps, completed)
		if st.Status == model.StepStatusCompleted {
			completed[st.Seq] = st.Result
		}
	}

	if err := s.settle(ctx, &run, steps); err != nil {
		return model.RunDetail{}, err
	}

	plan, err := s.store.GetPlan(ctx, runID)
	if err != nil {
		return model.RunDetail{}, err
	}
	return model.RunDetail{Run: run, Plan: plan, Steps: steps}, nil
}

// executeStep runs one step through its connector. Failures land on
// the step, not the dispatcher; the run keeps going.
func (s *Service) executeStep(ctx context.Context, run model.Run, st *model.Step, steps []model.Step, completed map[int]map[string]any) {
	// Dependencies must have completed.
	for _, dep := range st.DependsOn {
		if _, ok := completed[dep]; !ok {
			reason := fmt.Sprintf("dependency step %d did not complete", dep)
			s.failStep(ctx, run, st, model.StepStatusSkipped, reason)
			return
		}
	}

	// A gated step only runs once its approval was granted. Rejections
	// are applied at resolution time, so anything still pending here is
	// a gate that was never opened.
	if st.RequiresApproval && st.Status != model.StepStatusApproved {
		reason := "approval not granted"
		s.failStep(ctx, run, st, model.StepStatusSkipped, reason)
		return
	}

	conn, err := s.registry.Get(st.ActionType)
	if err != nil {
		s.failStep(ctx, run, st, model.StepStatusFailed, policy.SanitizeError(err.Error()))
		return
	}
	if err := conn.Validate(*st); err != nil {
		s.failStep(ctx, run, st, model.StepStatusFailed, policy.SanitizeError(err.Error()))
		return
	}

	if err := s.setStepStatus(ctx, run, st, model.StepStatusExecuting, nil); err != nil {
		s.logger.Error("mark step executing failed", "step_id", st.ID, "error", err)
		return
	}

	deps := make(map[int]map[string]any, len(st.DependsOn))
	for _, dep := range st.DependsOn {
		deps[dep] = completed[dep]
	}
	req := connector.Request{Step: *st, Mode: run.Mode, Deps: deps}

	var result map[string]any
	execute := func() error {
		execCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
		defer cancel()
		var execErr error
		result, execErr = conn.Execute(execCtx, req)
		return execErr
	}

	// Costed steps are charged against the budget; the ceilings are
	// re-checked at execution time, not just at planning time.
	if st.EstimatedCost > 0 {
		err = s.ledger.Spend(ctx, run.OwnerID, run.ID, st.ID, st.EstimatedCost, execute)
	} else {
		err = execute()
	}

	var be *budget.Error
	switch {
	case errors.As(err, &be):
		s.failStep(ctx, run, st, model.StepStatusFailed, be.Error())
		return
	case err != nil:
		s.failStep(ctx, run, st, model.StepStatusFailed, policy.SanitizeError(err.Error()))
		return
	case len(result) == 0:
		s.failStep(ctx, run, st, model.StepStatusFailed, "connector returned an empty result")
		return
	}

	if st.EstimatedCost > 0 {
		s.recordAudit(ctx, newAudit(run.ID, &st.ID, model.ActorExecutor, model.AuditSpendRecorded,
			fmt.Sprintf("recorded spend %.2f", st.EstimatedCost),
			map[string]any{"amount": st.EstimatedCost}))
	}

	st.Result = result
	if err := s.setStepStatus(ctx, run, st, model.StepStatusCompleted, nil); err != nil {
		s.logger.Error("mark step completed failed", "step_id", st.ID, "error", err)
	}
}

// failStep moves a step to a terminal failure state, logging but not
// propagating persistence errors.
func (s *Service) failStep(ctx context.Context, run model.Run, st *model.Step, status model.StepStatus, reason string) {
	if err := s.setStepStatus(ctx, run, st, status, &reason); err != nil {
		s.logger.Error("mark step terminal failed", "step_id", st.ID, "status", status, "error", err)
	}
}

// settle decides the run's terminal status from its steps. The run
// fails when any step failed, and completes otherwise; skipped steps
// do not fail a run on their own.
func (s *Service) settle(ctx context.Context, run *model.Run, steps []model.Step) error {
	var failed int
	for _, st := range steps {
		if st.Status == model.StepStatusFailed {
			failed++
		}
	}
	if failed > 0 {
		msg := fmt.Sprintf("%d of %d steps failed", failed, len(steps))
		return s.setRunStatus(ctx, run, model.RunStatusFailed, &msg)
	}
	return s.setRunStatus(ctx, run, model.RunStatusCompleted, nil)
}
