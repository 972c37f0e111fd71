package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/store"
)

// CreateRun persists a run together with its plan, steps, and any pending
// approvals in one transaction. A run is never visible without its plan.
func (db *DB) CreateRun(ctx context.Context, run model.Run, plan model.Plan, steps []model.Step, approvals []model.Approval) error {
	return WithRetry(ctx, 3, 25*time.Millisecond, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin create run: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = tx.Exec(ctx,
			`INSERT INTO runs (id, owner_id, message, mode, status, error, created_at, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.ID, run.OwnerID, run.Message, string(run.Mode), string(run.Status),
			run.Error, run.CreatedAt, run.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: insert run: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO plans (id, run_id, estimated_cost, risk_level, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			plan.ID, plan.RunID, plan.EstimatedCost, string(plan.RiskLevel), plan.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: insert plan: %w", err)
		}

		for _, s := range steps {
			if err := insertStep(ctx, tx, s); err != nil {
				return err
			}
		}

		for _, a := range approvals {
			if err := insertApproval(ctx, tx, a); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit create run: %w", err)
		}
		return nil
	})
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	var r model.Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, owner_id, message, mode, status, error, created_at, completed_at
		 FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.OwnerID, &r.Message, &r.Mode, &r.Status, &r.Error, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, fmt.Errorf("storage: run %s: %w", id, store.ErrNotFound)
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return r, nil
}

// GetPlan retrieves the plan belonging to a run.
func (db *DB) GetPlan(ctx context.Context, runID uuid.UUID) (model.Plan, error) {
	var p model.Plan
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, estimated_cost, risk_level, created_at
		 FROM plans WHERE run_id = $1`, runID,
	).Scan(&p.ID, &p.RunID, &p.EstimatedCost, &p.RiskLevel, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Plan{}, fmt.Errorf("storage: plan for run %s: %w", runID, store.ErrNotFound)
		}
		return model.Plan{}, fmt.Errorf("storage: get plan: %w", err)
	}
	return p, nil
}

// UpdateRunStatus transitions a run to a new status. Transition ordering
// is enforced by the engine under the per-run lock, not here.
func (db *DB) UpdateRunStatus(ctx context.Context, id uuid.UUID, status model.RunStatus, errMsg *string, completedAt *time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(status), errMsg, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("storage: update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: run %s: %w", id, store.ErrNotFound)
	}
	return nil
}
