// Package authn resolves bearer tokens into principals.
package authn

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/revocation"
	"github.com/and161185/tokenguard/internal/token"
)

// PrincipalLookup resolves a token subject to an account.
type PrincipalLookup interface {
	GetByEmail(ctx context.Context, email string) (*model.Principal, error)
}

// Authenticator runs the per-request pipeline: revocation check, verification, lookup.
type Authenticator struct {
	codec   *token.Codec
	revoked revocation.Store
	lookup  PrincipalLookup
}

// New constructs an Authenticator.
func New(codec *token.Codec, revoked revocation.Store, lookup PrincipalLookup) *Authenticator {
	return &Authenticator{codec: codec, revoked: revoked, lookup: lookup}
}

// Authenticate accepts only normal tokens. Store failures are wrapped in
// errs.ErrAuthUnavailable; every other failure is one of the token sentinels.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*model.Principal, *token.Claims, error) {
	id, err := a.codec.PeekID(raw)
	if err != nil {
		return nil, nil, err
	}
	revoked, err := a.revoked.IsRevoked(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: revocation lookup: %v", errs.ErrAuthUnavailable, err)
	}
	if revoked {
		return nil, nil, errs.ErrRevoked
	}

	claims, err := a.codec.Verify(raw, token.TypeNormal)
	if err != nil {
		return nil, nil, err
	}

	p, err := a.lookup.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil, errs.ErrUnknownSubject
		}
		return nil, nil, fmt.Errorf("%w: principal lookup: %v", errs.ErrAuthUnavailable, err)
	}
	return p, claims, nil
}

// Kind returns a short label for an authentication failure.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrRevoked):
		return "revoked"
	case errors.Is(err, errs.ErrMalformed):
		return "malformed"
	case errors.Is(err, errs.ErrSignatureMismatch):
		return "signature"
	case errors.Is(err, errs.ErrExpired):
		return "expired"
	case errors.Is(err, errs.ErrWrongClaimType):
		return "wrong_type"
	case errors.Is(err, errs.ErrUnknownSubject):
		return "unknown_subject"
	case errors.Is(err, errs.ErrAuthUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
