// Package server is the JSON-over-HTTP adapter for the trust core.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/core"
)

type Server struct {
	svc       *core.Service
	tokens    auth.TokenParser
	mux       *http.ServeMux
	protected http.Handler
	optional  http.Handler
	log       zerolog.Logger

	admin        *auth.SecretHash
	maxBodyBytes int64
	pairingTTL   int
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l.With().Str("component", "http").Logger() }
}

// WithAdminToken enables the /api/admin endpoints, guarded by a bearer
// token matching h. A nil h leaves them disabled.
func WithAdminToken(h *auth.SecretHash) Option {
	return func(s *Server) { s.admin = h }
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// WithPairingTTL sets the lifetime of codes whose request omits ttlMinutes.
func WithPairingTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pairingTTL = int(d / time.Minute)
		}
	}
}

func New(svc *core.Service, tokens auth.TokenParser, opts ...Option) *Server {
	s := &Server{
		svc:          svc,
		tokens:       tokens,
		mux:          http.NewServeMux(),
		log:          zerolog.Nop(),
		maxBodyBytes: 1 << 20,
		pairingTTL:   10,
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	s.protected = auth.AuthRequired(tokens, svc.Sessions().ActiveAccess)(s.mux)
	s.optional = auth.AuthOptional(tokens, svc.Sessions().ActiveAccess)(s.mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	s.addDefaultHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	if r.URL.Path == "/api/resources/access" {
		s.optional.ServeHTTP(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/api/") && !s.isPublic(r) {
		s.protected.ServeHTTP(w, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s
}

// isPublic lists the paths reachable without a device session. Admin paths
// carry their own token check. The resource access check takes a session
// when one is presented and answers for no identity otherwise.
func (s *Server) isPublic(r *http.Request) bool {
	switch r.URL.Path {
	case "/api/health", "/api/devices/register", "/api/sessions/refresh":
		return true
	case "/api/sessions":
		return r.Method == http.MethodPost
	}
	return strings.HasPrefix(r.URL.Path, "/api/admin/")
}

func (s *Server) addDefaultHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	w.Header().Set("Cache-Control", "no-store")
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
}
