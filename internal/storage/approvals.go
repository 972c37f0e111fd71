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

const approvalColumns = `id, run_id, step_id, scope, reason, status, requested_by,
	reviewed_by, notes, requested_at, reviewed_at, expires_at`

// insertApproval writes one approval inside an open transaction. A second
// pending approval for the same target violates the partial unique index
// and surfaces as store.ErrConflict.
func insertApproval(ctx context.Context, tx pgx.Tx, a model.Approval) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO approvals (`+approvalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.RunID, a.StepID, string(a.Scope), a.Reason, string(a.Status),
		a.RequestedBy, a.ReviewedBy, a.Notes, a.RequestedAt, a.ReviewedAt, a.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: pending approval exists for target: %w", store.ErrConflict)
		}
		return fmt.Errorf("storage: insert approval: %w", err)
	}
	return nil
}

// GetApproval retrieves an approval by ID.
func (db *DB) GetApproval(ctx context.Context, id uuid.UUID) (model.Approval, error) {
	a, err := scanApproval(db.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Approval{}, fmt.Errorf("storage: approval %s: %w", id, store.ErrNotFound)
		}
		return model.Approval{}, fmt.Errorf("storage: get approval: %w", err)
	}
	return a, nil
}

// ListApprovalsByRun returns all approvals of a run ordered by request time.
func (db *DB) ListApprovalsByRun(ctx context.Context, runID uuid.UUID) ([]model.Approval, error) {
	return db.listApprovals(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE run_id = $1 ORDER BY requested_at`, runID)
}

// ListPendingApprovalsByOwner returns pending approvals across all runs
// owned by the given user, oldest first.
func (db *DB) ListPendingApprovalsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Approval, error) {
	return db.listApprovals(ctx,
		`SELECT a.id, a.run_id, a.step_id, a.scope, a.reason, a.status, a.requested_by,
			a.reviewed_by, a.notes, a.requested_at, a.reviewed_at, a.expires_at
		 FROM approvals a
		 JOIN runs r ON r.id = a.run_id
		 WHERE r.owner_id = $1 AND a.status = 'pending'
		 ORDER BY a.requested_at`, ownerID)
}

// UpdateApproval persists the mutable fields of an approval.
func (db *DB) UpdateApproval(ctx context.Context, a model.Approval) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE approvals SET status = $1, reviewed_by = $2, notes = $3, reviewed_at = $4
		 WHERE id = $5`,
		string(a.Status), a.ReviewedBy, a.Notes, a.ReviewedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: approval %s: %w", a.ID, store.ErrNotFound)
	}
	return nil
}

func (db *DB) listApprovals(ctx context.Context, query string, arg any) ([]model.Approval, error) {
	rows, err := db.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("storage: list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []model.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func scanApproval(row pgx.Row) (model.Approval, error) {
	var a model.Approval
	err := row.Scan(
		&a.ID, &a.RunID, &a.StepID, &a.Scope, &a.Reason, &a.Status,
		&a.RequestedBy, &a.ReviewedBy, &a.Notes, &a.RequestedAt, &a.ReviewedAt, &a.ExpiresAt,
	)
	return a, err
}
