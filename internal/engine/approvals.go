package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/model"
)

// ListPendingApprovals returns the caller's open approval requests,
// expiring any whose deadline has passed along the way.
func (s *Service) ListPendingApprovals(ctx context.Context, caller model.User) ([]model.Approval, error) {
	pending, err := s.store.ListPendingApprovalsByOwner(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := pending[:0]
	for _, a := range pending {
		if expired(a, now) {
			s.expire(ctx, a)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func expired(a model.Approval, now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// expire marks a pending approval expired. Best effort; the approval
// also fails closed at resolution time.
func (s *Service) expire(ctx context.Context, a model.Approval) {
	now := time.Now().UTC()
	a.Status = model.ApprovalStatusExpired
	a.ReviewedAt = &now
	if err := s.store.UpdateApproval(ctx, a); err != nil {
		s.logger.Warn("expire approval failed", "approval_id", a.ID, "error", err)
		return
	}
	if run, err := s.store.GetRun(ctx, a.RunID); err == nil {
		s.recordAudit(ctx, newAudit(a.RunID, a.StepID, model.ActorExecutor, model.AuditApprovalResolved,
			"approval expired", map[string]any{"approval_id": a.ID.String()}))
		s.publish(run.OwnerID, a.RunID, a.StepID, model.EventApprovalResolved, map[string]any{
			"approval_id": a.ID.String(),
			"status":      string(model.ApprovalStatusExpired),
		})
	}
}

// Approve grants a pending approval. The gated step becomes approved,
// and once no pending approvals remain the run moves from pending to
// approved.
func (s *Service) Approve(ctx context.Context, caller model.User, approvalID uuid.UUID, notes *string) (model.Approval, error) {
	return s.resolve(ctx, caller, approvalID, notes, true)
}

// Reject denies a pending approval. A step-scoped rejection skips that
// step; the run is rejected only when no executable step remains. A
// plan-scoped rejection rejects the run outright.
func (s *Service) Reject(ctx context.Context, caller model.User, approvalID uuid.UUID, notes *string) (model.Approval, error) {
	return s.resolve(ctx, caller, approvalID, notes, false)
}

func (s *Service) resolve(ctx context.Context, caller model.User, approvalID uuid.UUID, notes *string, approve bool) (model.Approval, error) {
	a, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return model.Approval{}, err
	}

	run, err := s.authorizeRun(ctx, caller, a.RunID)
	if err != nil {
		return model.Approval{}, err
	}

	lock := s.runLock(a.RunID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent resolution may have won.
	a, err = s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return model.Approval{}, err
	}
	if a.Status != model.ApprovalStatusPending {
		return model.Approval{}, &ConflictError{Reason: fmt.Sprintf("approval already %s", a.Status)}
	}
	if expired(a, time.Now().UTC()) {
		s.expire(ctx, a)
		return model.Approval{}, &ConflictError{Reason: "approval expired"}
	}

	// Granting a costed step re-checks the ceilings so an approver
	// learns about an exhausted budget now, not at execution time. The
	// approval stays pending and can be granted once spend frees up.
	if approve && a.StepID != nil {
		st, err := s.store.GetStep(ctx, *a.StepID)
		if err != nil {
			return model.Approval{}, err
		}
		if st.EstimatedCost > 0 {
			if err := s.ledger.Check(ctx, run.OwnerID, st.EstimatedCost); err != nil {
				return model.Approval{}, err
			}
		}
	}

	now := time.Now().UTC()
	if approve {
		a.Status = model.ApprovalStatusApproved
	} else {
		a.Status = model.ApprovalStatusRejected
	}
	a.ReviewedBy = &caller.ID
	a.ReviewedAt = &now
	a.Notes = notes
	if err := s.store.UpdateApproval(ctx, a); err != nil {
		return model.Approval{}, fmt.Errorf("engine: update approval: %w", err)
	}

	s.recordAudit(ctx, newAudit(a.RunID, a.StepID, model.ActorUser, model.AuditApprovalResolved,
		fmt.Sprintf("approval %s by %s", a.Status, caller.Name),
		map[string]any{"approval_id": a.ID.String(), "status": string(a.Status)}))
	s.publish(run.OwnerID, a.RunID, a.StepID, model.EventApprovalResolved, map[string]any{
		"approval_id": a.ID.String(),
		"status":      string(a.Status),
	})

	if err := s.applyResolution(ctx, run, a); err != nil {
		return model.Approval{}, err
	}
	return a, nil
}

// applyResolution propagates a resolved approval to its step and run.
// Caller holds the run lock.
func (s *Service) applyResolution(ctx context.Context, run model.Run, a model.Approval) error {
	steps, err := s.store.ListSteps(ctx, run.ID)
	if err != nil {
		return err
	}

	if a.Scope == model.ScopePlan {
		// A granted plan-scoped approval touches no step directly; it
		// only unblocks the pending → approved re-evaluation below.
		if a.Status == model.ApprovalStatusRejected {
			return s.rejectRun(ctx, &run, steps, "plan rejected by reviewer")
		}
	} else if a.StepID != nil {
		for i := range steps {
			if steps[i].ID != *a.StepID || steps[i].Status.Terminal() {
				continue
			}
			if a.Status == model.ApprovalStatusApproved {
				if err := s.setStepStatus(ctx, run, &steps[i], model.StepStatusApproved, nil); err != nil {
					return err
				}
			} else {
				reason := "approval rejected"
				if err := s.setStepStatus(ctx, run, &steps[i], model.StepStatusSkipped, &reason); err != nil {
					return err
				}
			}
		}
	}

	if a.Status == model.ApprovalStatusRejected && !anyExecutable(steps) {
		return s.rejectRun(ctx, &run, steps, "no executable steps remain")
	}

	// When every approval is resolved and the run survived, it becomes
	// ready to execute.
	if run.Status == model.RunStatusPending {
		remaining, err := s.store.ListApprovalsByRun(ctx, run.ID)
		if err != nil {
			return err
		}
		for _, other := range remaining {
			if other.Status == model.ApprovalStatusPending {
				return nil
			}
		}
		return s.setRunStatus(ctx, &run, model.RunStatusApproved, nil)
	}
	return nil
}

// rejectRun skips all remaining steps and moves the run to rejected.
func (s *Service) rejectRun(ctx context.Context, run *model.Run, steps []model.Step, reason string) error {
	for i := range steps {
		if steps[i].Status.Terminal() {
			continue
		}
		if err := s.setStepStatus(ctx, *run, &steps[i], model.StepStatusSkipped, &reason); err != nil {
			return err
		}
	}
	if run.Status.Terminal() {
		return nil
	}
	return s.setRunStatus(ctx, run, model.RunStatusRejected, &reason)
}

// anyExecutable reports whether some step can still run: it is not
// terminal and none of its transitive dependencies ended skipped or
// failed. The steps slice reflects statuses already applied.
func anyExecutable(steps []model.Step) bool {
	bySeq := make(map[int]model.Step, len(steps))
	for _, st := range steps {
		bySeq[st.Seq] = st
	}
	var depsBlocked func(st model.Step) bool
	depsBlocked = func(st model.Step) bool {
		for _, dep := range st.DependsOn {
			d, ok := bySeq[dep]
			if !ok {
				return true
			}
			if d.Status == model.StepStatusSkipped || d.Status == model.StepStatusFailed {
				return true
			}
			if depsBlocked(d) {
				return true
			}
		}
		return false
	}
	for _, st := range steps {
		if st.Status.Terminal() {
			continue
		}
		if !depsBlocked(st) {
			return true
		}
	}
	return false
}

// ApproveAll resolves every pending approval on the run in one call.
func (s *Service) ApproveAll(ctx context.Context, caller model.User, runID uuid.UUID) (model.ApproveAllResult, error) {
	if _, err := s.authorizeRun(ctx, caller, runID); err != nil {
		return model.ApproveAllResult{}, err
	}

	approvals, err := s.store.ListApprovalsByRun(ctx, runID)
	if err != nil {
		return model.ApproveAllResult{}, err
	}

	result := model.ApproveAllResult{RunID: runID}
	for _, a := range approvals {
		if a.Status != model.ApprovalStatusPending {
			continue
		}
		if _, err := s.Approve(ctx, caller, a.ID, nil); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("approval %s: %v", a.ID, err))
			continue
		}
		result.ApprovedCount++
	}
	return result, nil
}
