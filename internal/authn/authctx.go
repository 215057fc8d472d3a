package authn

import (
	"context"

	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/token"
)

type ctxKey string

const (
	principalKey ctxKey = "tg.principal"
	claimsKey    ctxKey = "tg.claims"
)

// WithPrincipal stores the authenticated principal and its token claims in context.
func WithPrincipal(ctx context.Context, p *model.Principal, c *token.Claims) context.Context {
	ctx = context.WithValue(ctx, principalKey, p)
	return context.WithValue(ctx, claimsKey, c)
}

// PrincipalFrom fetches the principal from context.
func PrincipalFrom(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*model.Principal)
	return p, ok && p != nil
}

// ClaimsFrom fetches the verified claims from context.
func ClaimsFrom(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*token.Claims)
	return c, ok && c != nil
}
