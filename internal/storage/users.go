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

// CreateUser inserts a new user. Names are unique; a duplicate returns
// store.ErrConflict.
func (db *DB) CreateUser(ctx context.Context, u model.User) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, name, role, api_key_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Name, string(u.Role), u.APIKeyHash, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: user %q: %w", u.Name, store.ErrConflict)
		}
		return fmt.Errorf("storage: create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	return db.scanUser(db.pool.QueryRow(ctx,
		`SELECT id, name, role, api_key_hash, created_at FROM users WHERE id = $1`, id,
	))
}

// GetUserByName retrieves a user by name.
func (db *DB) GetUserByName(ctx context.Context, name string) (model.User, error) {
	return db.scanUser(db.pool.QueryRow(ctx,
		`SELECT id, name, role, api_key_hash, created_at FROM users WHERE name = $1`, name,
	))
}

func (db *DB) scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Role, &u.APIKeyHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("storage: user: %w", store.ErrNotFound)
		}
		return model.User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return u, nil
}
