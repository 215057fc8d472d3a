// Package revocation defines the token blacklist and its Redis and PostgreSQL backends.
package revocation

import (
	"context"
	"time"
)

// Store records revoked token identifiers (jti).
//
// Implementations must make a returned Revoke visible to every later IsRevoked
// in the process; no backend may serve a cached "not revoked" answer.
type Store interface {
	// Revoke blacklists tokenID at least until expiresAt. It reports true only
	// for the call that created the entry; revoking twice returns false.
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)
	// IsRevoked reports whether tokenID is blacklisted.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// Prune drops entries whose token expired before now and returns how many were removed.
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Grace keeps an entry past its token's exp so a token revoked right before it
// expires is still reported as revoked.
const Grace = time.Minute
