package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionCols = `id, principal_id, token_id, token_expires_at, device_info, created_at, last_seen_at`

// Create inserts a session row.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `
INSERT INTO sessions (id, principal_id, token_id, token_expires_at, device_info, created_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q, s.ID, s.PrincipalID, s.TokenID, s.TokenExpiresAt, s.DeviceInfo, s.CreatedAt, s.LastSeenAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get selects a session by ID.
func (r *SessionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	const q = `SELECT ` + sessionCols + ` FROM sessions WHERE id=$1`
	var s model.Session
	err := r.db.Pool.QueryRow(ctx, q, id).
		Scan(&s.ID, &s.PrincipalID, &s.TokenID, &s.TokenExpiresAt, &s.DeviceInfo, &s.CreatedAt, &s.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// ListByPrincipal returns all sessions of a principal, most recently created first.
func (r *SessionRepo) ListByPrincipal(ctx context.Context, principalID uuid.UUID) ([]model.Session, error) {
	const q = `SELECT ` + sessionCols + ` FROM sessions WHERE principal_id=$1 ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, principalID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.PrincipalID, &s.TokenID, &s.TokenExpiresAt, &s.DeviceInfo, &s.CreatedAt, &s.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Touch updates last_seen_at.
func (r *SessionRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE sessions SET last_seen_at=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Rebind swaps the session's token if it is still bound to oldTokenID.
func (r *SessionRepo) Rebind(ctx context.Context, id uuid.UUID, oldTokenID, tokenID string, tokenExp time.Time) error {
	const q = `UPDATE sessions SET token_id=$3, token_expires_at=$4, last_seen_at=now() WHERE id=$1 AND token_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, oldTokenID, tokenID, tokenExp)
	if err != nil {
		return fmt.Errorf("rebind session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a session row.
func (r *SessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM sessions WHERE id=$1`
	if _, err := r.db.Pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
