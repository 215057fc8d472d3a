package grpcserver

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/tokenguard/internal/authn"
	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/token"
)

type fakeAuth struct {
	err   error
	panic bool
	got   string
}

func (f *fakeAuth) Authenticate(_ context.Context, raw string) (*model.Principal, *token.Claims, error) {
	f.got = raw
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	return &model.Principal{ID: uuid.Must(uuid.NewV4()), Username: "alice"}, &token.Claims{}, nil
}

func ctxWithAuth(v string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", v))
}

func whoAmI(ctx context.Context, _ any) (any, error) {
	if p, ok := authn.PrincipalFrom(ctx); ok {
		return p.Username, nil
	}
	return "anonymous", nil
}

func call(t *testing.T, a Authenticator, ctx context.Context, method string) (any, error) {
	t.Helper()
	ic := AuthUnary(a, DefaultPublicMethods, zaptest.NewLogger(t))
	return ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, whoAmI)
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	got, err := bearerTokenFromMD(ctxWithAuth("Bearer abc.def.ghi"))
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}
	if _, err := bearerTokenFromMD(ctxWithAuth("Basic foo")); err == nil {
		t.Fatalf("want error on non-bearer")
	}
	if _, err := bearerTokenFromMD(ctxWithAuth("Bearer   ")); err == nil {
		t.Fatalf("want error on empty bearer")
	}
	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error without metadata")
	}
}

func TestAuthUnary_AttachesPrincipal(t *testing.T) {
	t.Parallel()
	a := &fakeAuth{}

	resp, err := call(t, a, ctxWithAuth("Bearer tok"), "/svc.Feed/List")
	if err != nil || resp != "alice" || a.got != "tok" {
		t.Fatalf("resp=%v err=%v got=%q", resp, err, a.got)
	}
}

func TestAuthUnary_AnonymousAndPublic(t *testing.T) {
	t.Parallel()
	a := &fakeAuth{err: errs.ErrMalformed}

	resp, err := call(t, a, context.Background(), "/svc.Feed/List")
	if err != nil || resp != "anonymous" {
		t.Fatalf("no header: resp=%v err=%v", resp, err)
	}

	resp, err = call(t, a, ctxWithAuth("Bearer junk"), "/grpc.health.v1.Health/Check")
	if err != nil || resp != "anonymous" || a.got != "" {
		t.Fatalf("public: resp=%v err=%v", resp, err)
	}
}

func TestAuthUnary_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		auth *fakeAuth
		msg  string
	}{
		{&fakeAuth{err: errs.ErrRevoked}, "Token has been blacklisted"},
		{&fakeAuth{err: errs.ErrWrongClaimType}, "Invalid token"},
		{&fakeAuth{err: errs.ErrAuthUnavailable}, "Invalid token"},
		{&fakeAuth{panic: true}, "Invalid token"},
	}
	for _, c := range cases {
		_, err := call(t, c.auth, ctxWithAuth("Bearer tok"), "/svc.Feed/List")
		st, ok := status.FromError(err)
		if !ok || st.Code() != codes.Unauthenticated || st.Message() != c.msg {
			t.Fatalf("want Unauthenticated %q, got %v", c.msg, err)
		}
	}
}
