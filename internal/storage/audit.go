package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/model"
)

// InsertAudit appends one audit log entry. The target table is immutable;
// entries are never updated or deleted.
func (db *DB) InsertAudit(ctx context.Context, e model.AuditLogEntry) error {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO audit_log (id, run_id, step_id, actor, kind, message, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.RunID, e.StepID, string(e.Actor), e.Kind, e.Message, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit: %w", err)
	}
	return nil
}

// ListAuditByRun returns the audit trail for a run in insertion order.
func (db *DB) ListAuditByRun(ctx context.Context, runID uuid.UUID) ([]model.AuditLogEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, step_id, actor, kind, message, metadata, created_at
		 FROM audit_log WHERE run_id = $1 ORDER BY created_at, id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.StepID, &e.Actor, &e.Kind, &e.Message, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan audit: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
