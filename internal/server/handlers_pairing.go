package server

import (
	"net/http"
	"time"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/pairing"
)

func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	var req generateCodeReq
	if !decode(w, r, &req) {
		return
	}
	format, err := pairing.ParseFormat(req.Format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ttl := s.pairingTTL
	if req.TTLMinutes != nil {
		ttl = *req.TTLMinutes
	}
	code, err := s.svc.GeneratePairingCode(r.Context(), caller(r), self(r), ttl, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, generateCodeResp{
		Code:      code.Code,
		Format:    string(code.Format),
		ExpiresAt: code.ExpiresAt.UTC().Truncate(time.Second),
	})
}

func (s *Server) handleRedeemCode(w http.ResponseWriter, r *http.Request) {
	var req redeemReq
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.RedeemPairingCode(r.Context(), caller(r), req.Code, self(r), req.Payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, redeemResp{
		IssuingDeviceID: res.IssuingDeviceID,
		IssuerPublicKey: res.IssuerPublicKey,
		RelationshipID:  res.Relationship.ID,
		Level:           res.Relationship.Level.String(),
	})
}
