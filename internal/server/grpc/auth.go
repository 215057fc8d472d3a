package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/tokenguard/internal/authn"
	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/metrics"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/token"
)

// DefaultPublicMethods bypass authentication.
var DefaultPublicMethods = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.",
}

// Authenticator resolves a raw bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*model.Principal, *token.Claims, error)
}

var errNoBearer = errors.New("no bearer token")

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errNoBearer
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, nil
			}
		}
	}
	return "", errNoBearer
}

// AuthUnary applies the bearer pipeline to unary calls. Public methods and
// calls without a bearer token pass through; failures become Unauthenticated.
func AuthUnary(a Authenticator, public []string, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		for _, p := range public {
			if strings.HasPrefix(info.FullMethod, p) {
				return next(ctx, req)
			}
		}
		raw, err := bearerTokenFromMD(ctx)
		if err != nil {
			metrics.AuthOutcomes.WithLabelValues("anonymous").Inc()
			return next(ctx, req)
		}

		p, c, err := authenticate(ctx, a, raw)
		if err != nil {
			kind := authn.Kind(err)
			metrics.AuthOutcomes.WithLabelValues(kind).Inc()
			log.Info("auth rejected", zap.String("kind", kind), zap.String("method", info.FullMethod), zap.Error(err))
			if errors.Is(err, errs.ErrRevoked) {
				return nil, status.Error(codes.Unauthenticated, "Token has been blacklisted")
			}
			return nil, status.Error(codes.Unauthenticated, "Invalid token")
		}
		metrics.AuthOutcomes.WithLabelValues("ok").Inc()
		return next(authn.WithPrincipal(ctx, p, c), req)
	}
}

func authenticate(ctx context.Context, a Authenticator, raw string) (p *model.Principal, c *token.Claims, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, c, err = nil, nil, fmt.Errorf("auth pipeline panic: %v", rec)
		}
	}()
	return a.Authenticate(ctx, raw)
}
