package server

import (
	"net/http"
	"strings"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
)

// adminOnly checks the bearer token against the configured admin hash.
// Without a hash the admin surface does not exist.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.admin == nil {
			http.NotFound(w, r)
			return
		}
		h := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if !strings.HasPrefix(h, "Bearer ") || token == "" {
			writeErr(w, http.StatusUnauthorized, "admin token required")
			return
		}
		if !s.admin.Verify(token) {
			s.log.Warn().Str("token", auth.Preview(token)).Str("ip", caller(r).IP).Msg("admin token rejected")
			writeErr(w, http.StatusUnauthorized, "admin token rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRoot issues root trust to a registered device.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	var req rootReq
	if !decode(w, r, &req) {
		return
	}
	if req.Actor == "" {
		req.Actor = "admin"
	}
	d, err := s.svc.BootstrapRoot(r.Context(), req.DeviceID, req.Actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, d)
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	rotated, version := s.svc.RotateKeys(r.Context(), "admin")
	writeJSON(w, map[string]any{"rotated": rotated, "version": version})
}
