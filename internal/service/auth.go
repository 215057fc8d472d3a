// Package service contains the account, login and session services.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/tokenguard/internal/crypto"
	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/limiter"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/repository"
	"github.com/and161185/tokenguard/internal/revocation"
	"github.com/and161185/tokenguard/internal/token"
	"github.com/and161185/tokenguard/internal/totp"
)

// VerificationSender delivers the email verification token.
type VerificationSender interface {
	SendVerification(ctx context.Context, email, token string) error
}

// LogSender writes verification tokens to the log. It stands in for a mailer in local setups.
type LogSender struct{ Log *zap.Logger }

// SendVerification implements VerificationSender.
func (s LogSender) SendVerification(_ context.Context, email, token string) error {
	s.Log.Info("verification token", zap.String("email", email), zap.String("token", token))
	return nil
}

// AuthService defines account and login operations.
type AuthService interface {
	Register(ctx context.Context, email, username, password string) error
	VerifyEmail(ctx context.Context, token string) (*model.Principal, error)
	UsernameAvailable(ctx context.Context, username string) (bool, error)
	Login(ctx context.Context, login, password, ip, device string) (model.LoginResult, error)
	ConfirmTwoFactor(ctx context.Context, tempToken, code, device string) (model.Tokens, error)
	Refresh(ctx context.Context, raw string) (model.Tokens, error)
	Logout(ctx context.Context, p *model.Principal, c *token.Claims) error
	LogoutAll(ctx context.Context, p *model.Principal) (int, error)
	ListSessions(ctx context.Context, p *model.Principal) ([]model.Session, error)
	CloseSession(ctx context.Context, p *model.Principal, sessionID uuid.UUID) error
	Seen(ctx context.Context, p *model.Principal, c *token.Claims) error
	KeepCurrent(ctx context.Context, p *model.Principal, c *token.Claims) (int, error)
	EnableTwoFactor(ctx context.Context, p *model.Principal) (string, error)
	DeleteAccount(ctx context.Context, p *model.Principal) error
}

// AuthServiceImpl implements AuthService.
type AuthServiceImpl struct {
	principals repository.PrincipalRepository
	regs       *Registrations
	sessions   *Sessions
	codec      *token.Codec
	revoked    revocation.Store
	lim        limiter.Limiter
	sender     VerificationSender
	issuer     string
	log        *zap.Logger
	now        func() time.Time
}

// Deps collects AuthServiceImpl collaborators.
type Deps struct {
	Principals    repository.PrincipalRepository
	Registrations *Registrations
	Sessions      *Sessions
	Codec         *token.Codec
	Revoked       revocation.Store
	Limiter       limiter.Limiter
	Sender        VerificationSender
	Issuer        string // shown in authenticator apps
	Log           *zap.Logger
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(d Deps) *AuthServiceImpl {
	if d.Issuer == "" {
		d.Issuer = "tokenguard"
	}
	return &AuthServiceImpl{
		principals: d.Principals,
		regs:       d.Registrations,
		sessions:   d.Sessions,
		codec:      d.Codec,
		revoked:    d.Revoked,
		lim:        d.Limiter,
		sender:     d.Sender,
		issuer:     d.Issuer,
		log:        d.Log,
		now:        time.Now,
	}
}

// Register stores a pending signup and sends its verification token.
func (s *AuthServiceImpl) Register(ctx context.Context, email, username, password string) error {
	if password == "" {
		return fmt.Errorf("%w: empty password", errs.ErrInvalidArgument)
	}
	hash, err := pkgcrypto.HashPassword([]byte(password))
	if err != nil {
		return err
	}
	tok, err := s.regs.Create(ctx, email, username, hash)
	if err != nil {
		return err
	}
	if err := s.sender.SendVerification(ctx, normalizeEmail(email), tok); err != nil {
		return fmt.Errorf("send verification: %w", err)
	}
	return nil
}

// VerifyEmail consumes a verification token.
func (s *AuthServiceImpl) VerifyEmail(ctx context.Context, tok string) (*model.Principal, error) {
	return s.regs.Consume(ctx, tok)
}

// UsernameAvailable checks principals and live signups.
func (s *AuthServiceImpl) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	return s.regs.UsernameAvailable(ctx, username)
}

// Login authenticates with rate limiting by (login, ip). Accounts with a
// second factor get a temp token instead of a session.
func (s *AuthServiceImpl) Login(ctx context.Context, login, password, ip, device string) (model.LoginResult, error) {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		login = normalizeEmail(login)
	}
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, login, ipHash)
	if err != nil {
		return model.LoginResult{}, err
	}
	if !allowed {
		return model.LoginResult{}, errs.ErrRateLimited
	}

	p, err := s.principals.GetByLogin(ctx, login)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.LoginResult{}, err
	}
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), p.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, login, ipHash); ferr == nil && blocked {
			return model.LoginResult{}, errs.ErrRateLimited
		}
		// unknown login and wrong password look the same
		return model.LoginResult{}, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, login, ipHash); err != nil {
		s.log.Warn("limiter reset", zap.Error(err))
	}

	if p.TwoFactorEnabled() {
		tmp, err := s.codec.IssueTemp(p.Email)
		if err != nil {
			return model.LoginResult{}, err
		}
		return model.LoginResult{TwoFactorRequired: true, TempToken: tmp.Token}, nil
	}

	tokens, err := s.openSession(ctx, p, device)
	if err != nil {
		return model.LoginResult{}, err
	}
	return model.LoginResult{Tokens: tokens}, nil
}

// ConfirmTwoFactor exchanges a temp token and a TOTP code for a session.
// The temp token is consumed before the session is opened, so concurrent
// confirms with the same token open at most one session.
func (s *AuthServiceImpl) ConfirmTwoFactor(ctx context.Context, tempToken, code, device string) (model.Tokens, error) {
	claims, err := s.codec.Verify(tempToken, token.TypeTemp)
	if err != nil {
		return model.Tokens{}, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("%w: %v", errs.ErrAuthUnavailable, err)
	}
	if revoked {
		return model.Tokens{}, errs.ErrRevoked
	}

	p, err := s.principals.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, errs.ErrUnknownSubject
		}
		return model.Tokens{}, err
	}
	ok, err := totp.Verify(p.TOTPSecret, code, s.now())
	if err != nil || !ok {
		return model.Tokens{}, errs.ErrUnauthorized
	}

	// only the caller that revokes the temp token may open a session
	if err := s.sessions.ConsumeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return model.Tokens{}, err
	}
	return s.openSession(ctx, p, device)
}

// Refresh rotates a valid access token: the session is rebound and the old token revoked.
func (s *AuthServiceImpl) Refresh(ctx context.Context, raw string) (model.Tokens, error) {
	claims, err := s.codec.Verify(raw, token.TypeNormal)
	if err != nil {
		return model.Tokens{}, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("%w: %v", errs.ErrAuthUnavailable, err)
	}
	if revoked {
		return model.Tokens{}, errs.ErrRevoked
	}
	p, err := s.principals.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, errs.ErrUnknownSubject
		}
		return model.Tokens{}, err
	}
	sess, err := s.sessions.Current(ctx, p.ID, claims.ID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, errs.ErrUnauthorized
		}
		return model.Tokens{}, err
	}

	iss, err := s.codec.IssueAccess(p.Email)
	if err != nil {
		return model.Tokens{}, err
	}
	if err := s.sessions.Rebind(ctx, sess.ID, claims.ID, claims.ExpiresAt.Time, iss.ID, iss.ExpiresAt); err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: iss.Token, SessionID: sess.ID, ExpiresAt: iss.ExpiresAt}, nil
}

// Logout closes the session bound to the presented token. A token without a
// session is still revoked.
func (s *AuthServiceImpl) Logout(ctx context.Context, p *model.Principal, c *token.Claims) error {
	sess, err := s.sessions.Current(ctx, p.ID, c.ID)
	switch {
	case err == nil:
		return s.sessions.Revoke(ctx, p.ID, sess.ID)
	case errors.Is(err, errs.ErrNotFound):
		return s.sessions.RevokeToken(ctx, c.ID, c.ExpiresAt.Time)
	default:
		return err
	}
}

// LogoutAll closes every session of the principal.
func (s *AuthServiceImpl) LogoutAll(ctx context.Context, p *model.Principal) (int, error) {
	return s.sessions.RevokeAll(ctx, p.ID)
}

// ListSessions returns the principal's sessions, newest first.
func (s *AuthServiceImpl) ListSessions(ctx context.Context, p *model.Principal) ([]model.Session, error) {
	return s.sessions.List(ctx, p.ID)
}

// CloseSession closes one of the principal's sessions.
func (s *AuthServiceImpl) CloseSession(ctx context.Context, p *model.Principal, sessionID uuid.UUID) error {
	return s.sessions.Revoke(ctx, p.ID, sessionID)
}

// Seen touches the session bound to the presented token, if there is one.
func (s *AuthServiceImpl) Seen(ctx context.Context, p *model.Principal, c *token.Claims) error {
	sess, err := s.sessions.Current(ctx, p.ID, c.ID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.sessions.Touch(ctx, sess.ID)
}

// KeepCurrent closes every session except the one bound to the presented token.
func (s *AuthServiceImpl) KeepCurrent(ctx context.Context, p *model.Principal, c *token.Claims) (int, error) {
	sess, err := s.sessions.Current(ctx, p.ID, c.ID)
	if err != nil {
		return 0, err
	}
	return s.sessions.RevokeAllExcept(ctx, p.ID, sess.ID)
}

// EnableTwoFactor generates and stores a TOTP secret and returns its otpauth URI.
// It fails with ErrConflict when 2FA is already on; the stored secret is kept.
func (s *AuthServiceImpl) EnableTwoFactor(ctx context.Context, p *model.Principal) (string, error) {
	cur, err := s.principals.GetByID(ctx, p.ID)
	if err != nil {
		return "", err
	}
	if cur.TwoFactorEnabled() {
		return "", fmt.Errorf("%w: two-factor already enabled", errs.ErrConflict)
	}
	raw, _, err := totp.GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := s.principals.SetTOTPSecret(ctx, p.ID, raw); err != nil {
		return "", err
	}
	return totp.ProvisionURI(s.issuer, p.Email, raw), nil
}

// DeleteAccount closes all sessions, then deletes the principal. The account
// is kept if any session could not be closed.
func (s *AuthServiceImpl) DeleteAccount(ctx context.Context, p *model.Principal) error {
	if _, err := s.sessions.RevokeAll(ctx, p.ID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return s.principals.Delete(ctx, p.ID)
}

func (s *AuthServiceImpl) openSession(ctx context.Context, p *model.Principal, device string) (model.Tokens, error) {
	iss, err := s.codec.IssueAccess(p.Email)
	if err != nil {
		return model.Tokens{}, err
	}
	sid, err := s.sessions.Create(ctx, p.ID, iss.ID, iss.ExpiresAt, device)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: iss.Token, SessionID: sid, ExpiresAt: iss.ExpiresAt}, nil
}
