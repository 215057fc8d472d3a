package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/tokenguard/internal/authn"
	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/service"
)

// Handlers serves the /auth API.
type Handlers struct {
	svc service.AuthService
	log *zap.Logger
}

// NewHandlers constructs Handlers.
func NewHandlers(svc service.AuthService, log *zap.Logger) *Handlers {
	return &Handlers{svc: svc, log: log}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type confirmRequest struct {
	TempToken string `json:"temp_token"`
	Code      string `json:"code"`
}

type refreshRequest struct {
	Token string `json:"token"`
}

type tokensResponse struct {
	AccessToken string    `json:"access_token"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type loginResponse struct {
	*tokensResponse
	TwoFactorRequired bool   `json:"two_factor_required,omitempty"`
	TempToken         string `json:"temp_token,omitempty"`
}

type principalResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Username         string    `json:"username"`
	Roles            []string  `json:"roles"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

type sessionResponse struct {
	ID         string    `json:"id"`
	DeviceInfo string    `json:"device_info"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Current    bool      `json:"current"`
}

func toTokens(t model.Tokens) *tokensResponse {
	return &tokensResponse{AccessToken: t.AccessToken, SessionID: t.SessionID.String(), ExpiresAt: t.ExpiresAt}
}

func toPrincipal(p *model.Principal) principalResponse {
	return principalResponse{
		ID:               p.ID.String(),
		Email:            p.Email,
		Username:         p.Username,
		Roles:            p.Roles,
		TwoFactorEnabled: p.TwoFactorEnabled(),
		CreatedAt:        p.CreatedAt,
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.ErrInvalidArgument
	}
	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Register handles POST /auth/register.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Register(r.Context(), req.Email, req.Username, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "verification sent"})
}

// VerifyEmail handles GET /auth/verify-email?token=.
func (h *Handlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPrincipal(p))
}

// UsernameAvailable handles GET /auth/username-available?username=.
func (h *Handlers) UsernameAvailable(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.UsernameAvailable(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": ok})
}

// Login handles POST /auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Login, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.TwoFactorRequired {
		writeJSON(w, http.StatusOK, loginResponse{TwoFactorRequired: true, TempToken: res.TempToken})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{tokensResponse: toTokens(res.Tokens)})
}

// ConfirmTwoFactor handles POST /auth/2fa/confirm.
func (h *Handlers) ConfirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.svc.ConfirmTwoFactor(r.Context(), req.TempToken, req.Code, r.UserAgent())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokens(t))
}

// Refresh handles POST /auth/refresh.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.svc.Refresh(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokens(t))
}

// Logout handles POST /auth/logout.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.PrincipalFrom(r.Context())
	c, _ := authn.ClaimsFrom(r.Context())
	if err := h.svc.Logout(r.Context(), p, c); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /auth/logout-all.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.PrincipalFrom(r.Context())
	n, err := h.svc.LogoutAll(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": n})
}

// KeepCurrent handles POST /auth/sessions/keep-current.
func (h *Handlers) KeepCurrent(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.PrincipalFrom(r.Context())
	c, _ := authn.ClaimsFrom(r.Context())
	n, err := h.svc.KeepCurrent(r.Context(), p, c)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": n})
}

// ListSessions handles GET /auth/sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.PrincipalFrom(r.Context())
	c, _ := authn.ClaimsFrom(r.Context())
	list, err := h.svc.ListSessions(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, sessionResponse{
			ID:         s.ID.String(),
			DeviceInfo: s.DeviceInfo,
			CreatedAt:  s.CreatedAt,
			LastSeenAt: s.LastSeenAt,
			Current:    s.TokenID == c.ID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// CloseSession handles DELETE /auth/sessions/{id}.
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.PrincipalFrom(r.Context())
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, errs.ErrInvalidArgument)
		return
	}
	if err := h.svc.CloseSession(r.Context(), p, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, toPrincipal(p))
}

// DeleteAccount handles DELETE /auth/account.
func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.PrincipalFrom(r.Context())
	if err := h.svc.DeleteAccount(r.Context(), p); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sweep returns the POST /admin/sweep handler. A pass already in flight is
// reported as ran=false.
func (h *Handlers) Sweep(run func(ctx context.Context) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ran, err := run(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ran": ran})
	}
}

// EnableTwoFactor handles POST /auth/2fa/enable.
func (h *Handlers) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.PrincipalFrom(r.Context())
	uri, err := h.svc.EnableTwoFactor(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"otpauth_uri": uri})
}
