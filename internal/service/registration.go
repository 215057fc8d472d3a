package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/tokenguard/internal/crypto"
	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/repository"
)

// DefaultRegistrationTTL is how long an unverified signup stays claimable.
const DefaultRegistrationTTL = 24 * time.Hour

// Registrations manages unverified signups.
type Registrations struct {
	repo repository.PendingRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewRegistrations constructs the pending-registration store. ttl <= 0 selects the default.
func NewRegistrations(repo repository.PendingRepository, ttl time.Duration) *Registrations {
	if ttl <= 0 {
		ttl = DefaultRegistrationTTL
	}
	return &Registrations{repo: repo, ttl: ttl, now: time.Now}
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create stores a signup and returns the verification token to deliver to the user.
func (r *Registrations) Create(ctx context.Context, email, username string, pwdHash []byte) (string, error) {
	email = normalizeEmail(email)
	username = strings.TrimSpace(username)
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: email", errs.ErrInvalidArgument)
	}
	if username == "" || len(pwdHash) == 0 {
		return "", fmt.Errorf("%w: username/password", errs.ErrInvalidArgument)
	}
	// logins containing '@' are looked up as emails first
	if strings.Contains(username, "@") {
		return "", fmt.Errorf("%w: username must not contain '@'", errs.ErrInvalidArgument)
	}

	tok, err := pkgcrypto.RandToken()
	if err != nil {
		return "", err
	}
	now := r.now()
	p := &model.PendingRegistration{
		Email:     email,
		Username:  username,
		PwdHash:   pwdHash,
		TokenHash: pkgcrypto.HashToken(tok),
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
	}
	if err := r.repo.Create(ctx, p, now); err != nil {
		return "", err
	}
	return tok, nil
}

// Consume turns the signup matching tok into a verified principal.
func (r *Registrations) Consume(ctx context.Context, tok string) (*model.Principal, error) {
	if tok == "" {
		return nil, errs.ErrNotFound
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return r.repo.Consume(ctx, pkgcrypto.HashToken(tok), id, r.now())
}

// UsernameAvailable reports whether no principal or live signup holds username.
func (r *Registrations) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.Contains(username, "@") {
		return false, fmt.Errorf("%w: username", errs.ErrInvalidArgument)
	}
	claimed, err := r.repo.UsernameClaimed(ctx, username, r.now())
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// DeleteExpired removes lapsed signups. It is the sweeper job for this store.
func (r *Registrations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.repo.DeleteExpired(ctx, now)
}
