package server

import "net/http"

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/devices/register", s.handleRegister)
	s.mux.HandleFunc("GET /api/devices/me", s.handleMe)
	s.mux.HandleFunc("POST /api/devices/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("POST /api/devices/key", s.handleSetPublicKey)
	s.mux.HandleFunc("POST /api/devices/trust", s.handleTrust)
	s.mux.HandleFunc("POST /api/devices/revoke", s.handleRevokeTrust)
	s.mux.HandleFunc("POST /api/devices/deactivate", s.handleDeactivate)

	s.mux.HandleFunc("POST /api/pairing/codes", s.handleGenerateCode)
	s.mux.HandleFunc("POST /api/pairing/redeem", s.handleRedeemCode)

	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("POST /api/sessions/refresh", s.handleRefreshSession)
	s.mux.HandleFunc("POST /api/sessions/revoke", s.handleRevokeSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)

	s.mux.HandleFunc("POST /api/resources/share", s.handleShare)
	s.mux.HandleFunc("GET /api/resources/access", s.handleAccess)

	s.mux.HandleFunc("POST /api/keys/split", s.handleSplitKey)
	s.mux.HandleFunc("POST /api/keys/escrow", s.handleCreateEscrow)
	s.mux.HandleFunc("POST /api/keys/escrow/recover", s.handleRecoverEscrow)

	s.mux.Handle("POST /api/admin/root", s.adminOnly(http.HandlerFunc(s.handleRoot)))
	s.mux.Handle("POST /api/admin/rotate", s.adminOnly(http.HandlerFunc(s.handleRotate)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
