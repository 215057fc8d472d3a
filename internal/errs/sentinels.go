// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Token verification failures.
var (
	// ErrMalformed indicates the token is not a decodable three-segment token.
	ErrMalformed = errors.New("malformed token")

	// ErrSignatureMismatch indicates the token was not signed with the server secret.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrExpired indicates the token's exp claim is in the past.
	ErrExpired = errors.New("token expired")

	// ErrRevoked indicates the token was explicitly revoked (blacklisted).
	ErrRevoked = errors.New("token revoked")

	// ErrWrongClaimType indicates the token's type claim differs from the one required.
	ErrWrongClaimType = errors.New("wrong token type")

	// ErrUnknownSubject indicates a valid token whose subject no longer resolves to a principal.
	ErrUnknownSubject = errors.New("unknown subject")

	// ErrAuthUnavailable indicates a backing store failed during authentication.
	ErrAuthUnavailable = errors.New("authentication unavailable")
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the email or username is already claimed, or the
	// requested state is already in place.
	ErrConflict = errors.New("conflict")

	// ErrRegistrationExpired indicates a pending registration outlived its TTL.
	ErrRegistrationExpired = errors.New("registration expired")

	// ErrUnauthorized indicates failed authentication (bad credentials or code).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidArgument indicates request validation failure.
	ErrInvalidArgument = errors.New("invalid argument")
)
