// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Principal is a verified account that tokens are issued for.
type Principal struct {
	ID         uuid.UUID // PK
	Email      string    // unique, token subject
	Username   string    // unique
	PwdHash    []byte    // salt || Argon2id(password, salt)
	Roles      []string
	Verified   bool
	TOTPSecret []byte // empty when 2FA is disabled
	CreatedAt  time.Time
}

// RoleAdmin may trigger maintenance operations.
const RoleAdmin = "admin"

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TwoFactorEnabled reports whether login requires a second step.
func (p *Principal) TwoFactorEnabled() bool { return len(p.TOTPSecret) > 0 }

// Session is a tracked login instance (device) of a principal.
type Session struct {
	ID             uuid.UUID
	PrincipalID    uuid.UUID
	TokenID        string    // jti of the access token currently bound to the session
	TokenExpiresAt time.Time // exp of that token; the revocation entry must outlive it
	DeviceInfo     string
	CreatedAt      time.Time
	LastSeenAt     time.Time
}

// PendingRegistration is an unverified signup awaiting email confirmation.
type PendingRegistration struct {
	Email     string
	Username  string
	PwdHash   []byte
	TokenHash []byte // sha256(verification token)
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Live reports whether the registration can still be consumed at now.
func (p *PendingRegistration) Live(now time.Time) bool { return now.Before(p.ExpiresAt) }

// Tokens collects an issued access token and the session it is bound to.
type Tokens struct {
	AccessToken string
	SessionID   uuid.UUID
	ExpiresAt   time.Time // access token expiry
}

// LoginResult is either a completed login or a pending second factor.
type LoginResult struct {
	Tokens            Tokens
	TwoFactorRequired bool
	TempToken         string // set only when TwoFactorRequired
}
