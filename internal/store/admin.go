package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Admin is the control plane's single operator account (spec §6, "all
// endpoints except login require a bearer token").
type Admin struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AdminStore manages the admins table. There is normally exactly one row;
// the schema allows more only so cmd/seed-admin can rotate credentials
// without a destructive migration.
type AdminStore struct {
	db DBTX
}

func NewAdminStore(db DBTX) *AdminStore {
	return &AdminStore{db: db}
}

// GetByUsername looks up an admin by username. ErrNotFound means no such
// admin exists (spec §7, "auth failure -> 401 without leaking details" —
// callers must not distinguish this from a wrong password).
func (s *AdminStore) GetByUsername(ctx context.Context, username string) (*Admin, error) {
	const query = `SELECT id, username, password_hash, created_at FROM admins WHERE username = $1`

	var a Admin
	err := s.db.QueryRowContext(ctx, query, username).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get admin: %w", err)
	}
	return &a, nil
}

// Upsert creates or replaces the admin account identified by id, used by
// cmd/seed-admin to provision or rotate the single operator credential.
func (s *AdminStore) Upsert(ctx context.Context, id, username, passwordHash string) error {
	const query = `
		INSERT INTO admins (id, username, password_hash) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, password_hash = EXCLUDED.password_hash`

	if _, err := s.db.ExecContext(ctx, query, id, username, passwordHash); err != nil {
		return fmt.Errorf("store: upsert admin: %w", err)
	}
	return nil
}
