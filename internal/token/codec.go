// Package token issues and verifies the compact HS256 tokens used as bearer credentials.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/tokenguard/internal/errs"
)

// Type is the value of the "type" claim.
type Type string

const (
	// TypeAny disables the type check in Verify.
	TypeAny Type = ""
	// TypeNormal marks ordinary access tokens. Tokens without a type claim are normal.
	TypeNormal Type = "normal"
	// TypeTemp marks step-up tokens that only gate the 2FA confirmation.
	TypeTemp Type = "temp"
)

// TempTTL is the fixed lifetime of temp tokens.
const TempTTL = 5 * time.Minute

// Claims is the payload carried by every token.
type Claims struct {
	Type Type `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// EffectiveType returns the token type, treating a missing claim as normal.
func (c *Claims) EffectiveType() Type {
	if c.Type == TypeAny {
		return TypeNormal
	}
	return c.Type
}

// Issued is a freshly signed token with the values callers need to track it.
type Issued struct {
	Token     string
	ID        string // jti, the revocation reference
	ExpiresAt time.Time
}

// Codec signs and verifies tokens. It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret    []byte
	accessTTL time.Duration
	issuer    string
	now       func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithIssuer sets the iss claim on issued tokens.
func WithIssuer(iss string) Option { return func(c *Codec) { c.issuer = iss } }

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(c *Codec) { c.now = now } }

// NewCodec constructs a Codec. An empty secret or non-positive TTL is a configuration error.
func NewCodec(secret []byte, accessTTL time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: empty signing secret")
	}
	if accessTTL <= 0 {
		return nil, errors.New("token: access ttl must be positive")
	}
	c := &Codec{secret: append([]byte(nil), secret...), accessTTL: accessTTL, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// AccessTTL returns the default lifetime of normal tokens.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// IssueAccess issues a normal token with the configured default TTL.
func (c *Codec) IssueAccess(subject string) (Issued, error) {
	return c.Issue(subject, c.accessTTL, TypeNormal)
}

// IssueTemp issues a 5-minute temp token for the 2FA confirmation step.
func (c *Codec) IssueTemp(subject string) (Issued, error) {
	return c.Issue(subject, TempTTL, TypeTemp)
}

// Issue builds {sub, iat, exp, jti, type} and signs it with HS256.
func (c *Codec) Issue(subject string, ttl time.Duration, typ Type) (Issued, error) {
	if subject == "" {
		return Issued{}, fmt.Errorf("issue: %w: empty subject", errs.ErrInvalidArgument)
	}
	if ttl <= 0 {
		return Issued{}, fmt.Errorf("issue: %w: ttl must be positive", errs.ErrInvalidArgument)
	}
	jti, err := uuid.NewV4()
	if err != nil {
		return Issued{}, err
	}
	now := c.now()
	exp := now.Add(ttl)
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("issue: sign: %w", err)
	}
	return Issued{Token: signed, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks structure, then signature, then expiry, then (unless required is TypeAny) the type claim.
// It never mutates state.
func (c *Codec) Verify(raw string, required Type) (*Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errs.ErrMalformed
	}
	if required != TypeAny && claims.EffectiveType() != required {
		return nil, errs.ErrWrongClaimType
	}
	return &claims, nil
}

// PeekID returns the jti of a structurally valid token without checking its
// signature. The result is only fit for rejecting a token, never for accepting one.
func (c *Codec) PeekID(raw string) (string, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", errs.ErrMalformed
	}
	if claims.ID == "" {
		return "", errs.ErrMalformed
	}
	return claims.ID, nil
}

// SubjectOf returns the verified subject of a token of any type.
func (c *Codec) SubjectOf(raw string) (string, error) {
	claims, err := c.Verify(raw, TypeAny)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ExpiryOf returns the verified expiry of a token of any type.
func (c *Codec) ExpiryOf(raw string) (time.Time, error) {
	claims, err := c.Verify(raw, TypeAny)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}

// classify maps jwt parser errors onto the errs taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errs.ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return errs.ErrSignatureMismatch
	case errors.Is(err, jwt.ErrTokenExpired):
		return errs.ErrExpired
	default:
		// missing exp, bad claim encoding, nbf/iat in the future
		return errs.ErrMalformed
	}
}
