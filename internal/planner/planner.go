// Package planner turns a natural-language request into an ordered,
// risk-classified plan of steps. A model backend proposes the
// decomposition when one is configured; a keyword heuristic covers
// model failures and model-less deployments, so planning never depends
// on an external service being up.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/policy"
)

type Planner struct {
	backend  Backend // optional
	fallback Backend
	policy   policy.Policy
	logger   *slog.Logger
}

// New builds a planner. backend may be nil, in which case every plan
// comes from the heuristic.
func New(backend Backend, pol policy.Policy, logger *slog.Logger) *Planner {
	return &Planner{
		backend:  backend,
		fallback: Heuristic{},
		policy:   pol,
		logger:   logger,
	}
}

// BuildPlan decomposes the run's message into classified steps and the
// aggregate plan. The returned steps are in execution order with
// 1-based sequence numbers; dependencies always point backwards.
func (p *Planner) BuildPlan(ctx context.Context, run model.Run) (model.Plan, []model.Step, error) {
	drafts, err := p.generate(ctx, run.Message)
	if err != nil {
		return model.Plan{}, nil, err
	}

	plan := model.Plan{
		ID:        uuid.New(),
		RunID:     run.ID,
		RiskLevel: model.RiskLow,
		CreatedAt: time.Now().UTC(),
	}

	steps := make([]model.Step, 0, len(drafts))
	for i, d := range drafts {
		params := d.Parameters
		if params == nil {
			params = map[string]any{}
		}
		if d.EstimatedCost > 0 {
			params["cost"] = d.EstimatedCost
		}

		cls := p.policy.Classify(d.ActionType, params)

		steps = append(steps, model.Step{
			ID:               uuid.New(),
			RunID:            run.ID,
			PlanID:           plan.ID,
			Seq:              i + 1,
			ActionType:       d.ActionType,
			Description:      d.Description,
			Parameters:       params,
			DependsOn:        d.DependsOn,
			EstimatedCost:    cls.EstimatedCost,
			RiskLevel:        cls.RiskLevel,
			SideEffect:       cls.SideEffect,
			RequiresApproval: cls.RequiresApproval,
			Status:           model.StepStatusPending,
		})

		plan.EstimatedCost += cls.EstimatedCost
		plan.RiskLevel = model.MaxRisk(plan.RiskLevel, cls.RiskLevel)
	}

	return plan, steps, nil
}

// generate runs the configured backend and falls back to the heuristic
// when it errors or produces an invalid decomposition.
func (p *Planner) generate(ctx context.Context, message string) ([]StepDraft, error) {
	if p.backend != nil {
		drafts, err := p.backend.GenerateSteps(ctx, message)
		if err == nil {
			if err := validateDrafts(drafts); err == nil {
				return drafts, nil
			} else {
				p.logger.Warn("planner: model produced invalid plan, falling back", "error", err)
			}
		} else {
			p.logger.Warn("planner: model backend failed, falling back", "error", err)
		}
	}

	drafts, err := p.fallback.GenerateSteps(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("planner: fallback: %w", err)
	}
	if err := validateDrafts(drafts); err != nil {
		return nil, fmt.Errorf("planner: fallback produced invalid plan: %w", err)
	}
	return drafts, nil
}

// validateDrafts rejects empty plans, unknown shapes, and dependency
// references that do not point to an earlier step.
func validateDrafts(drafts []StepDraft) error {
	if len(drafts) == 0 {
		return fmt.Errorf("no steps")
	}
	for i, d := range drafts {
		if d.ActionType == "" {
			return fmt.Errorf("step %d: missing action type", i+1)
		}
		for _, dep := range d.DependsOn {
			if dep < 1 || dep > i {
				return fmt.Errorf("step %d: dependency %d must reference an earlier step", i+1, dep)
			}
		}
	}
	return nil
}
