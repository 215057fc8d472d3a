package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/service"
)

// Options configures the router.
type Options struct {
	Logger      *zap.Logger
	Auth        Authenticator
	Service     service.AuthService
	PublicPaths []string // DefaultPublicPaths when empty
	// Ready reports whether backing stores are reachable (for /healthz).
	Ready func(ctx context.Context) error
	// Sweep runs one sweeper pass; POST /admin/sweep is mounted when set.
	Sweep func(ctx context.Context) (bool, error)
}

// NewRouter builds the HTTP handler with middleware and routes.
func NewRouter(opts Options) http.Handler {
	public := opts.PublicPaths
	if len(public) == 0 {
		public = DefaultPublicPaths
	}

	root := chi.NewRouter()
	root.Use(
		Recover(opts.Logger),
		RequestID(),
		Logging(opts.Logger),
		Authenticate(opts.Auth, public, opts.Logger),
	)

	root.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	root.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ready(ctx); err != nil {
				opts.Logger.Warn("not ready", zap.Error(err))
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	root.Handle("/metrics", promhttp.Handler())

	h := NewHandlers(opts.Service, opts.Logger)
	registerRoutes(root, h)
	if opts.Sweep != nil {
		root.Group(func(r chi.Router) {
			r.Use(RequirePrincipal(), RequireRole(model.RoleAdmin))
			r.Post("/admin/sweep", h.Sweep(opts.Sweep))
		})
	}
	return root
}

func registerRoutes(r chi.Router, h *Handlers) {
	// public
	r.Post("/auth/register", h.Register)
	r.Get("/auth/verify-email", h.VerifyEmail)
	r.Get("/auth/username-available", h.UsernameAvailable)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/2fa/confirm", h.ConfirmTwoFactor)
	r.Post("/auth/refresh", h.Refresh)

	// principal required
	r.Group(func(r chi.Router) {
		r.Use(RequirePrincipal(), TrackSeen(h.svc, h.log))
		r.Post("/auth/logout", h.Logout)
		r.Post("/auth/logout-all", h.LogoutAll)
		r.Post("/auth/sessions/keep-current", h.KeepCurrent)
		r.Get("/auth/sessions", h.ListSessions)
		r.Delete("/auth/sessions/{id}", h.CloseSession)
		r.Get("/auth/me", h.Me)
		r.Delete("/auth/account", h.DeleteAccount)
		r.Post("/auth/2fa/enable", h.EnableTwoFactor)
	})
}
