package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/store"
)

// InsertSpend appends the spend record for one step. At most one record
// exists per step; a duplicate returns store.ErrConflict.
func (db *DB) InsertSpend(ctx context.Context, rec model.SpendRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO spend_records (id, user_id, run_id, step_id, amount, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.UserID, rec.RunID, rec.StepID, rec.Amount, rec.RecordedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: spend for step %s: %w", rec.StepID, store.ErrConflict)
		}
		return fmt.Errorf("storage: insert spend: %w", err)
	}
	return nil
}

// SumSpend totals a user's spend recorded at or after the window start.
func (db *DB) SumSpend(ctx context.Context, userID uuid.UUID, from time.Time) (float64, error) {
	var total float64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM spend_records
		 WHERE user_id = $1 AND recorded_at >= $2`, userID, from,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("storage: sum spend: %w", err)
	}
	return total, nil
}
