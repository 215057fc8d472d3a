package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores revocations in the revoked_tokens table.
type Postgres struct {
	pool pgxQuerier
}

// NewPostgres constructs a PostgreSQL-backed store over a pool or pgxmock.
func NewPostgres(q pgxQuerier) *Postgres { return &Postgres{pool: q} }

// Revoke inserts the jti; a second revoke of the same token keeps the first entry.
func (p *Postgres) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	const q = `
INSERT INTO revoked_tokens (token_id, revoked_at, expires_at)
VALUES ($1, now(), $2)
ON CONFLICT (token_id) DO NOTHING`
	tag, err := p.pool.Exec(ctx, q, tokenID, expiresAt.Add(Grace))
	if err != nil {
		return false, fmt.Errorf("revocation: insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IsRevoked reports whether a row exists for the jti.
func (p *Postgres) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_id=$1)`
	var found bool
	if err := p.pool.QueryRow(ctx, q, tokenID).Scan(&found); err != nil {
		return false, fmt.Errorf("revocation: lookup: %w", err)
	}
	return found, nil
}

// Prune removes rows whose token can no longer pass the expiry check anyway.
func (p *Postgres) Prune(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM revoked_tokens WHERE expires_at < $1`
	tag, err := p.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("revocation: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
