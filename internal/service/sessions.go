package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/metrics"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/repository"
	"github.com/and161185/tokenguard/internal/revocation"
)

const (
	revokeAttempts = 3
	revokeBackoff  = 50 * time.Millisecond
)

// Sessions tracks login sessions. Closing a session revokes its token before
// the row is deleted; if the revocation cannot be written the row stays.
type Sessions struct {
	repo    repository.SessionRepository
	revoked revocation.Store
	log     *zap.Logger
	now     func() time.Time
	backoff time.Duration
}

// NewSessions constructs the session registry.
func NewSessions(repo repository.SessionRepository, revoked revocation.Store, log *zap.Logger) *Sessions {
	return &Sessions{repo: repo, revoked: revoked, log: log, now: time.Now, backoff: revokeBackoff}
}

// Create records a new session bound to the given token.
func (s *Sessions) Create(ctx context.Context, principalID uuid.UUID, tokenID string, tokenExp time.Time, device string) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	now := s.now()
	ss := &model.Session{
		ID:             id,
		PrincipalID:    principalID,
		TokenID:        tokenID,
		TokenExpiresAt: tokenExp,
		DeviceInfo:     device,
		CreatedAt:      now,
		LastSeenAt:     now,
	}
	if err := s.repo.Create(ctx, ss); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// List returns the principal's sessions, newest first.
func (s *Sessions) List(ctx context.Context, principalID uuid.UUID) ([]model.Session, error) {
	return s.repo.ListByPrincipal(ctx, principalID)
}

// Touch marks the session as seen now.
func (s *Sessions) Touch(ctx context.Context, sessionID uuid.UUID) error {
	return s.repo.Touch(ctx, sessionID, s.now())
}

// Current finds the principal's session bound to tokenID.
func (s *Sessions) Current(ctx context.Context, principalID uuid.UUID, tokenID string) (*model.Session, error) {
	list, err := s.repo.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].TokenID == tokenID {
			return &list[i], nil
		}
	}
	return nil, errs.ErrNotFound
}

// Revoke closes one session owned by principalID.
func (s *Sessions) Revoke(ctx context.Context, principalID, sessionID uuid.UUID) error {
	ss, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if ss.PrincipalID != principalID {
		return errs.ErrNotFound
	}
	return s.close(ctx, ss)
}

// RevokeAllExcept closes every session of principalID except current and returns how many were closed.
func (s *Sessions) RevokeAllExcept(ctx context.Context, principalID, current uuid.UUID) (int, error) {
	return s.closeWhere(ctx, principalID, func(ss *model.Session) bool { return ss.ID != current })
}

// RevokeAll closes every session of principalID.
func (s *Sessions) RevokeAll(ctx context.Context, principalID uuid.UUID) (int, error) {
	return s.closeWhere(ctx, principalID, func(*model.Session) bool { return true })
}

// Rebind moves the session from oldTokenID to tokenID. The old token is
// consumed first, so of two refreshes racing on one token only one rebinds;
// the other gets errs.ErrRevoked and its new token is revoked.
func (s *Sessions) Rebind(ctx context.Context, sessionID uuid.UUID, oldTokenID string, oldExp time.Time, tokenID string, tokenExp time.Time) error {
	if err := s.ConsumeToken(ctx, oldTokenID, oldExp); err != nil {
		s.discard(ctx, tokenID, tokenExp)
		return err
	}
	if err := s.repo.Rebind(ctx, sessionID, oldTokenID, tokenID, tokenExp); err != nil {
		s.discard(ctx, tokenID, tokenExp)
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrRevoked
		}
		return err
	}
	return nil
}

// RevokeToken writes a revocation entry, retrying transient failures.
// Revoking an already revoked token succeeds.
func (s *Sessions) RevokeToken(ctx context.Context, tokenID string, exp time.Time) error {
	_, err := s.revoke(ctx, tokenID, exp)
	return err
}

// ConsumeToken revokes a single-use token and returns errs.ErrRevoked unless
// this call created the revocation entry.
func (s *Sessions) ConsumeToken(ctx context.Context, tokenID string, exp time.Time) error {
	created, err := s.revoke(ctx, tokenID, exp)
	if err != nil {
		return err
	}
	if !created {
		return errs.ErrRevoked
	}
	return nil
}

// discard revokes a token that was issued but never handed out.
func (s *Sessions) discard(ctx context.Context, tokenID string, exp time.Time) {
	if err := s.RevokeToken(ctx, tokenID, exp); err != nil {
		s.log.Warn("discard token", zap.String("jti", tokenID), zap.Error(err))
	}
}

func (s *Sessions) revoke(ctx context.Context, tokenID string, exp time.Time) (bool, error) {
	var err error
	wait := s.backoff
	for attempt := 1; attempt <= revokeAttempts; attempt++ {
		var created bool
		if created, err = s.revoked.Revoke(ctx, tokenID, exp); err == nil {
			if created {
				metrics.Revocations.Inc()
			}
			return created, nil
		}
		s.log.Warn("revoke token failed",
			zap.String("jti", tokenID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == revokeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("revoke token: %w", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return false, fmt.Errorf("revoke token: %w", err)
}

func (s *Sessions) close(ctx context.Context, ss *model.Session) error {
	if err := s.RevokeToken(ctx, ss.TokenID, ss.TokenExpiresAt); err != nil {
		return err
	}
	return s.repo.Delete(ctx, ss.ID)
}

func (s *Sessions) closeWhere(ctx context.Context, principalID uuid.UUID, match func(*model.Session) bool) (int, error) {
	list, err := s.repo.ListByPrincipal(ctx, principalID)
	if err != nil {
		return 0, err
	}
	var (
		closed int
		errAll error
	)
	for i := range list {
		if !match(&list[i]) {
			continue
		}
		if err := s.close(ctx, &list[i]); err != nil {
			errAll = errors.Join(errAll, err)
			continue
		}
		closed++
	}
	return closed, errAll
}
