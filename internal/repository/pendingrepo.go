package repository

import (
	"context"
	"time"

	"github.com/and161185/tokenguard/internal/model"
	"github.com/gofrs/uuid/v5"
)

// PendingRepository stores unverified signups.
type PendingRepository interface {
	// Create inserts p unless a principal or a live registration claims its email or username.
	Create(ctx context.Context, p *model.PendingRegistration, now time.Time) error
	// Consume atomically turns the registration matching tokenHash into a verified principal.
	Consume(ctx context.Context, tokenHash []byte, principalID uuid.UUID, now time.Time) (*model.Principal, error)
	// DeleteExpired removes registrations with expires_at <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// UsernameClaimed reports whether a principal or a live registration holds username.
	UsernameClaimed(ctx context.Context, username string, now time.Time) (bool, error)
}
