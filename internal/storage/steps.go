package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/store"
)

const stepColumns = `id, run_id, plan_id, seq, action_type, description, parameters,
	depends_on, estimated_cost, risk_level, side_effect, requires_approval,
	status, result, error, executed_at`

// insertStep writes one step inside an open transaction.
func insertStep(ctx context.Context, tx pgx.Tx, s model.Step) error {
	if s.Parameters == nil {
		s.Parameters = map[string]any{}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO steps (`+stepColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		s.ID, s.RunID, s.PlanID, s.Seq, s.ActionType, s.Description, s.Parameters,
		s.DependsOn, s.EstimatedCost, string(s.RiskLevel), string(s.SideEffect),
		s.RequiresApproval, string(s.Status), s.Result, s.Error, s.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert step %d: %w", s.Seq, err)
	}
	return nil
}

// GetStep retrieves a step by ID.
func (db *DB) GetStep(ctx context.Context, id uuid.UUID) (model.Step, error) {
	s, err := scanStep(db.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Step{}, fmt.Errorf("storage: step %s: %w", id, store.ErrNotFound)
		}
		return model.Step{}, fmt.Errorf("storage: get step: %w", err)
	}
	return s, nil
}

// ListSteps returns all steps of a run ordered by sequence number.
func (db *DB) ListSteps(ctx context.Context, runID uuid.UUID) ([]model.Step, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = $1 ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list steps: %w", err)
	}
	defer rows.Close()

	var steps []model.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// UpdateStep persists the mutable fields of a step.
func (db *DB) UpdateStep(ctx context.Context, s model.Step) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE steps SET status = $1, result = $2, error = $3, executed_at = $4
		 WHERE id = $5`,
		string(s.Status), s.Result, s.Error, s.ExecutedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: step %s: %w", s.ID, store.ErrNotFound)
	}
	return nil
}

func scanStep(row pgx.Row) (model.Step, error) {
	var s model.Step
	err := row.Scan(
		&s.ID, &s.RunID, &s.PlanID, &s.Seq, &s.ActionType, &s.Description, &s.Parameters,
		&s.DependsOn, &s.EstimatedCost, &s.RiskLevel, &s.SideEffect, &s.RequiresApproval,
		&s.Status, &s.Result, &s.Error, &s.ExecutedAt,
	)
	return s, err
}
