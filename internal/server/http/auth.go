package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/tokenguard/internal/authn"
	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/metrics"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/token"
)

// Response bodies for rejected tokens.
const (
	MsgBlacklisted  = "Token has been blacklisted"
	MsgInvalidToken = "Invalid token"
)

// DefaultPublicPaths bypass authentication entirely.
var DefaultPublicPaths = []string{
	"/auth/register",
	"/auth/login",
	"/auth/refresh",
	"/auth/username-available",
	"/auth/verify-email",
	"/auth/2fa/confirm",
	"/docs",
	"/livez",
	"/healthz",
	"/metrics",
}

// Authenticator resolves a raw bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*model.Principal, *token.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Authenticate attaches the principal of a valid bearer token to the request
// context. Public paths and requests without a bearer header pass through;
// every other failure is a 401.
func Authenticate(a Authenticator, public []string, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path, public) {
				metrics.AuthOutcomes.WithLabelValues("public").Inc()
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				metrics.AuthOutcomes.WithLabelValues("anonymous").Inc()
				next.ServeHTTP(w, r)
				return
			}

			p, c, err := safeAuthenticate(r.Context(), a, raw)
			if err != nil {
				kind := authn.Kind(err)
				metrics.AuthOutcomes.WithLabelValues(kind).Inc()
				log.Info("auth rejected",
					zap.String("kind", kind),
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestIDFrom(r.Context())),
					zap.Error(err),
				)
				msg := MsgInvalidToken
				if errors.Is(err, errs.ErrRevoked) {
					msg = MsgBlacklisted
				}
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}

			metrics.AuthOutcomes.WithLabelValues("ok").Inc()
			next.ServeHTTP(w, r.WithContext(authn.WithPrincipal(r.Context(), p, c)))
		})
	}
}

// safeAuthenticate turns a panic in the pipeline into an error.
func safeAuthenticate(ctx context.Context, a Authenticator, raw string) (p *model.Principal, c *token.Claims, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, c = nil, nil
			err = fmt.Errorf("auth pipeline panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return a.Authenticate(ctx, raw)
}

// RequirePrincipal rejects anonymous requests on strictly protected routes.
func RequirePrincipal() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := authn.PrincipalFrom(r.Context()); !ok {
				http.Error(w, MsgInvalidToken, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects principals lacking role with 403. Mount after RequirePrincipal.
func RequireRole(role string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := authn.PrincipalFrom(r.Context())
			if !ok || !p.HasRole(role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SeenTracker records activity on the session behind a token.
type SeenTracker interface {
	Seen(ctx context.Context, p *model.Principal, c *token.Claims) error
}

// TrackSeen touches the caller's session before the handler runs. Failures
// are logged and never fail the request. Mount after RequirePrincipal.
func TrackSeen(t SeenTracker, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, okP := authn.PrincipalFrom(r.Context())
			c, okC := authn.ClaimsFrom(r.Context())
			if okP && okC {
				if err := t.Seen(r.Context(), p, c); err != nil {
					log.Warn("touch session", zap.String("principal", p.ID.String()), zap.Error(err))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
