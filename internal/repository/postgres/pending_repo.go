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

// DefaultRoles are granted to principals created from a registration.
var DefaultRoles = []string{"user"}

// PendingRepo implements PendingRepository using PostgreSQL.
type PendingRepo struct{ db *DB }

// NewPendingRepo constructs a pending-registration repository.
func NewPendingRepo(db *DB) *PendingRepo { return &PendingRepo{db: db} }

// Create inserts a registration inside a serializable transaction so the
// principal check and the insert see one snapshot. Expired registrations that
// hold the same email or username are replaced.
func (r *PendingRepo) Create(ctx context.Context, p *model.PendingRegistration, now time.Time) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, serializable)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			if isSerializationFailure(e) {
				e = errs.ErrConflict
			}
			err = e
		}
	}()

	const chk = `SELECT EXISTS (SELECT 1 FROM principals WHERE email=$1 OR username=$2)`
	const del = `DELETE FROM pending_registrations WHERE (email=$1 OR username=$2) AND expires_at <= $3`
	const ins = `
INSERT INTO pending_registrations (email, username, pwd_hash, token_hash, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	var taken bool
	if err = tx.QueryRow(ctx, chk, p.Email, p.Username).Scan(&taken); err != nil {
		return fmt.Errorf("check principal: %w", err)
	}
	if taken {
		return errs.ErrConflict
	}
	if _, err = tx.Exec(ctx, del, p.Email, p.Username, now); err != nil {
		return fmt.Errorf("replace expired: %w", err)
	}
	if _, err = tx.Exec(ctx, ins, p.Email, p.Username, p.PwdHash, p.TokenHash, p.ExpiresAt, now); err != nil {
		if isUniqueViolation(err) || isSerializationFailure(err) {
			return errs.ErrConflict
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// Consume locks the registration row, checks its TTL, inserts the principal and
// deletes the registration in one transaction.
func (r *PendingRepo) Consume(
	ctx context.Context, tokenHash []byte, principalID uuid.UUID, now time.Time,
) (p *model.Principal, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, serializable)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			p, err = nil, e
		}
	}()

	const sel = `
SELECT email, username, pwd_hash, expires_at
FROM pending_registrations WHERE token_hash=$1 FOR UPDATE`
	const ins = `
INSERT INTO principals (id, email, username, pwd_hash, roles, verified)
VALUES ($1, $2, $3, $4, $5, true)
RETURNING created_at`
	const del = `DELETE FROM pending_registrations WHERE token_hash=$1`

	var pr model.PendingRegistration
	if err = tx.QueryRow(ctx, sel, tokenHash).Scan(&pr.Email, &pr.Username, &pr.PwdHash, &pr.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("select registration: %w", err)
	}
	if !pr.Live(now) {
		return nil, errs.ErrRegistrationExpired
	}

	out := &model.Principal{
		ID:       principalID,
		Email:    pr.Email,
		Username: pr.Username,
		PwdHash:  pr.PwdHash,
		Roles:    DefaultRoles,
		Verified: true,
	}
	if err = tx.QueryRow(ctx, ins, out.ID, out.Email, out.Username, out.PwdHash, out.Roles).Scan(&out.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, errs.ErrConflict
		}
		return nil, fmt.Errorf("insert principal: %w", err)
	}
	if _, err = tx.Exec(ctx, del, tokenHash); err != nil {
		return nil, fmt.Errorf("delete registration: %w", err)
	}
	return out, nil
}

// DeleteExpired removes every registration whose expiry is strictly before now.
func (r *PendingRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM pending_registrations WHERE expires_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired registrations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UsernameClaimed checks principals and live registrations.
func (r *PendingRepo) UsernameClaimed(ctx context.Context, username string, now time.Time) (bool, error) {
	const q = `
SELECT EXISTS (SELECT 1 FROM principals WHERE username=$1)
    OR EXISTS (SELECT 1 FROM pending_registrations WHERE username=$1 AND expires_at > $2)`
	var claimed bool
	if err := r.db.Pool.QueryRow(ctx, q, username, now).Scan(&claimed); err != nil {
		return false, fmt.Errorf("username claimed: %w", err)
	}
	return claimed, nil
}
