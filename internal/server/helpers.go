package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/core"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/pairing"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/ratelimit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/session"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/trust"
)

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResp struct {
	Error string `json:"error"`
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, errorResp{Error: msg})
}

func tooMany(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeErr(w, http.StatusTooManyRequests, "too many requests")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

func caller(r *http.Request) core.Caller {
	c := core.Caller{IP: ratelimit.ClientIP(r)}
	if claims, ok := auth.FromContext(r.Context()); ok {
		c.DeviceID = claims.DeviceID
	}
	return c
}

func meta(r *http.Request) session.Meta {
	return session.Meta{IP: ratelimit.ClientIP(r), UserAgent: r.UserAgent()}
}

// statusFor maps domain errors to status codes. Error texts are safe to
// show: they name devices and formats, never keys or full tokens.
var statusFor = []struct {
	err  error
	code int
}{
	{core.ErrRateLimited, http.StatusTooManyRequests},
	{core.ErrIdentityUnverified, http.StatusUnauthorized},
	{auth.ErrTokenExpired, http.StatusUnauthorized},
	{auth.ErrTokenInvalid, http.StatusUnauthorized},

	{trust.ErrUnknownDevice, http.StatusNotFound},
	{trust.ErrSelfTrust, http.StatusBadRequest},
	{trust.ErrInvalidLevel, http.StatusBadRequest},
	{trust.ErrInvalidPermission, http.StatusBadRequest},
	{trust.ErrInvalidExpiry, http.StatusBadRequest},
	{trust.ErrGrantorNotTrusted, http.StatusForbidden},
	{trust.ErrSharerNotTrusted, http.StatusForbidden},
	{trust.ErrTargetNotTrusted, http.StatusForbidden},
	{trust.ErrInsufficientTrustLevel, http.StatusForbidden},
	{trust.ErrPermissionDenied, http.StatusForbidden},
	{trust.ErrDeviceInactive, http.StatusForbidden},
	{trust.ErrPublicKeyConflict, http.StatusConflict},

	{pairing.ErrCodeNotFound, http.StatusNotFound},
	{pairing.ErrCodeExpired, http.StatusGone},
	{pairing.ErrSelfPairing, http.StatusBadRequest},
	{pairing.ErrInvalidTTL, http.StatusBadRequest},
	{pairing.ErrInvalidFormat, http.StatusBadRequest},

	{session.ErrSessionNotFound, http.StatusNotFound},
	{session.ErrDeviceInactive, http.StatusForbidden},

	{keys.ErrInsufficientShares, http.StatusBadRequest},
	{keys.ErrInsufficientDevices, http.StatusBadRequest},
	{keys.ErrInvalidThreshold, http.StatusBadRequest},
	{keys.ErrInvalidKeyFormat, http.StatusBadRequest},
	{keys.ErrShareMismatch, http.StatusBadRequest},
	{keys.ErrEmptySecret, http.StatusBadRequest},
	{keys.ErrDecryptionFailed, http.StatusUnauthorized},
	{keys.ErrEscrowNotFound, http.StatusNotFound},
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			if m.code == http.StatusTooManyRequests {
				tooMany(w, 60)
				return
			}
			writeErr(w, m.code, err.Error())
			return
		}
	}
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeErr(w, http.StatusInternalServerError, "internal error")
}

// self returns the authenticated device ID.
func self(r *http.Request) string {
	claims, _ := auth.FromContext(r.Context())
	if claims == nil {
		return ""
	}
	return claims.DeviceID
}
