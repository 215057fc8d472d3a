package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/and161185/tokenguard/internal/errs"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes and client-safe messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid argument"
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, errs.ErrMalformed),
		errors.Is(err, errs.ErrSignatureMismatch),
		errors.Is(err, errs.ErrExpired),
		errors.Is(err, errs.ErrWrongClaimType),
		errors.Is(err, errs.ErrUnknownSubject):
		return http.StatusUnauthorized, MsgInvalidToken
	case errors.Is(err, errs.ErrRevoked):
		return http.StatusUnauthorized, MsgBlacklisted
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict, "already taken"
	case errors.Is(err, errs.ErrRegistrationExpired):
		return http.StatusGone, "registration expired"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "too many attempts"
	case errors.Is(err, errs.ErrAuthUnavailable):
		return http.StatusServiceUnavailable, "temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: msg, RequestID: RequestIDFrom(r.Context())})
}
