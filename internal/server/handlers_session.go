package server

import (
	"net/http"
	"time"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/core"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/session"
)

// secondsUntil rounds to whole seconds; tokens are minted a moment before the
// session record is stamped.
func secondsUntil(from, to time.Time) int64 {
	return int64(to.Sub(from).Round(time.Second) / time.Second)
}

func tokens(issued *session.Issued) tokenResp {
	now := issued.Session.IssuedAt
	return tokenResp{
		SessionID:        issued.Session.ID,
		AccessToken:      issued.Tokens.AccessToken,
		RefreshToken:     issued.Tokens.RefreshToken,
		ExpiresIn:        secondsUntil(now, issued.Tokens.AccessExpiresAt),
		RefreshExpiresIn: secondsUntil(now, issued.Tokens.RefreshExpiresAt),
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionReq
	if !decode(w, r, &req) {
		return
	}
	issued, err := s.svc.CreateSession(r.Context(), caller(r), core.SessionRequest{
		DeviceID:    req.DeviceID,
		Fingerprint: req.Fingerprint,
		Info:        req.DeviceInfo,
		Meta:        meta(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, tokens(issued))
}

func (s *Server) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if !decode(w, r, &req) {
		return
	}
	issued, err := s.svc.RefreshSession(r.Context(), caller(r), req.RefreshToken, meta(r))
	if err != nil {
		s.log.Info().Err(err).Str("token", auth.Preview(req.RefreshToken)).Msg("refresh rejected")
		s.fail(w, r, err)
		return
	}
	writeJSON(w, tokens(issued))
}

// handleRevokeSession revokes one of the caller's sessions by ID, or all of
// them when deviceId is the caller's own.
func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	var req revokeSessionReq
	if !decode(w, r, &req) {
		return
	}
	me := self(r)
	switch {
	case req.SessionID != "":
		if _, err := s.svc.RevokeSession(r.Context(), req.SessionID, me); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, map[string]int{"revoked": 1})
	case req.DeviceID != "":
		if req.DeviceID != me {
			writeErr(w, http.StatusForbidden, "can only revoke own sessions")
			return
		}
		n, err := s.svc.RevokeDeviceSessions(r.Context(), me, me)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, map[string]int{"revoked": n})
	default:
		writeErr(w, http.StatusBadRequest, "sessionId or deviceId required")
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	list, err := s.svc.Sessions().ActiveSessions(r.Context(), claims.DeviceID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, sessionView{
			ID:        sess.ID,
			IssuedAt:  sess.IssuedAt,
			ExpiresAt: sess.ExpiresAt,
			IP:        sess.IP,
			UserAgent: sess.UserAgent,
			Current:   sess.ID == claims.SessionID,
		})
	}
	writeJSON(w, out)
}
