package server

import (
	"net/http"
	"strings"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/core"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/trust"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if !decode(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeErr(w, http.StatusBadRequest, "userId required")
		return
	}
	reg, err := s.svc.Register(r.Context(), caller(r), core.RegisterRequest{
		UserID:    req.UserID,
		Info:      req.DeviceInfo,
		PublicKey: req.PublicKey,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if reg.Created {
		code = http.StatusCreated
	}
	writeJSONStatus(w, code, registerResp{
		DeviceID:      reg.DeviceID,
		RequiresTrust: reg.RequiresTrust,
		Fingerprint:   reg.Fingerprint,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Device(r.Context(), self(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, d)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Heartbeat(r.Context(), self(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetPublicKey replaces the authenticated device's own public key.
func (s *Server) handleSetPublicKey(w http.ResponseWriter, r *http.Request) {
	var req publicKeyReq
	if !decode(w, r, &req) {
		return
	}
	d, err := s.svc.SetPublicKey(r.Context(), self(r), req.PublicKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, d)
}

// handleTrust lets the authenticated device extend trust to another device.
func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	var req trustReq
	if !decode(w, r, &req) {
		return
	}
	level, err := trust.ParseLevel(req.Level)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.svc.Trust(r.Context(), core.TrustRequest{
		DeviceID:    req.DeviceID,
		GrantorID:   self(r),
		Permissions: req.Permissions,
		Level:       level,
		Payload:     req.Payload,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, d)
}

func (s *Server) handleRevokeTrust(w http.ResponseWriter, r *http.Request) {
	var req deviceReq
	if !decode(w, r, &req) {
		return
	}
	if _, err := s.svc.RevokeTrust(r.Context(), req.DeviceID, self(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

// handleDeactivate retires the calling device itself.
func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id := self(r)
	if _, err := s.svc.Deactivate(r.Context(), id, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	var req shareReq
	if !decode(w, r, &req) {
		return
	}
	if req.ResourceID == "" || len(req.Targets) == 0 {
		writeErr(w, http.StatusBadRequest, "resourceId and targets required")
		return
	}
	grants, err := s.svc.ShareResource(r.Context(), req.ResourceID, self(r), req.Targets, req.Permissions, req.ExpiresAt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, grants)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perm, err := trust.ParsePermission(q.Get("perm"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"allowed": s.svc.CanAccess(r.Context(), q.Get("resourceId"), self(r), perm)})
}
