// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/tokenguard/internal/model"
	"github.com/gofrs/uuid/v5"
)

// PrincipalRepository provides access to verified accounts.
type PrincipalRepository interface {
	// GetByID loads a principal by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Principal, error)
	// GetByEmail loads a principal by email (the token subject).
	GetByEmail(ctx context.Context, email string) (*model.Principal, error)
	// GetByLogin loads a principal by email or username.
	GetByLogin(ctx context.Context, login string) (*model.Principal, error)
	// SetTOTPSecret enables (or with nil disables) the second factor.
	SetTOTPSecret(ctx context.Context, id uuid.UUID, secret []byte) error
	// Delete removes the principal row.
	Delete(ctx context.Context, id uuid.UUID) error
}
