package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// PrincipalRepo implements PrincipalRepository using PostgreSQL.
type PrincipalRepo struct{ db *DB }

// NewPrincipalRepo constructs a principal repository.
func NewPrincipalRepo(db *DB) *PrincipalRepo { return &PrincipalRepo{db: db} }

const principalCols = `id, email, username, pwd_hash, roles, verified, totp_secret, created_at`

func scanPrincipal(row pgx.Row) (*model.Principal, error) {
	var p model.Principal
	err := row.Scan(&p.ID, &p.Email, &p.Username, &p.PwdHash, &p.Roles, &p.Verified, &p.TOTPSecret, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetByID selects a principal by ID.
func (r *PrincipalRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Principal, error) {
	const q = `SELECT ` + principalCols + ` FROM principals WHERE id=$1`
	return scanPrincipal(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByEmail selects a principal by email.
func (r *PrincipalRepo) GetByEmail(ctx context.Context, email string) (*model.Principal, error) {
	const q = `SELECT ` + principalCols + ` FROM principals WHERE email=$1`
	return scanPrincipal(r.db.Pool.QueryRow(ctx, q, email))
}

// GetByLogin selects a principal by email or username. An email match wins.
func (r *PrincipalRepo) GetByLogin(ctx context.Context, login string) (*model.Principal, error) {
	const q = `SELECT ` + principalCols + ` FROM principals WHERE email=$1 OR username=$1 ORDER BY (email=$1) DESC LIMIT 1`
	return scanPrincipal(r.db.Pool.QueryRow(ctx, q, login))
}

// SetTOTPSecret stores the TOTP secret (nil disables 2FA).
func (r *PrincipalRepo) SetTOTPSecret(ctx context.Context, id uuid.UUID, secret []byte) error {
	const q = `UPDATE principals SET totp_secret=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, secret)
	if err != nil {
		return fmt.Errorf("set totp secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes the principal row. Session rows go with it via ON DELETE CASCADE.
func (r *PrincipalRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM principals WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
