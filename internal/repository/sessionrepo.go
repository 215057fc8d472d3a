package repository

import (
	"context"
	"time"

	"github.com/and161185/tokenguard/internal/model"
	"github.com/gofrs/uuid/v5"
)

// SessionRepository persists per-device login records.
type SessionRepository interface {
	// Create inserts a new session.
	Create(ctx context.Context, s *model.Session) error
	// Get loads a session by ID.
	Get(ctx context.Context, id uuid.UUID) (*model.Session, error)
	// ListByPrincipal returns the principal's sessions, newest first.
	ListByPrincipal(ctx context.Context, principalID uuid.UUID) ([]model.Session, error)
	// Touch sets last_seen_at.
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	// Rebind points the session at a new token (refresh) only while it is still
	// bound to oldTokenID; otherwise it returns errs.ErrNotFound.
	Rebind(ctx context.Context, id uuid.UUID, oldTokenID, tokenID string, tokenExp time.Time) error
	// Delete removes a session row; deleting a missing row is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}
