package server

import (
	"net/http"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/core"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/crypto"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
)

// handleSplitKey creates a fresh key and returns one CBOR share per device.
// The key itself is never returned.
func (s *Server) handleSplitKey(w http.ResponseWriter, r *http.Request) {
	var req splitReq
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.SplitKey(r.Context(), self(r), req.Devices, req.Threshold)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer crypto.Zero(res.Key)
	out := splitResp{KeyID: res.KeyID}
	for _, sh := range res.Shares {
		b, err := keys.MarshalShare(sh)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out.Shares = append(out.Shares, shareView{DeviceID: sh.DeviceID, Share: b})
	}
	writeJSONStatus(w, http.StatusCreated, out)
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req escrowReq
	if !decode(w, r, &req) {
		return
	}
	pass := []byte(req.Passphrase)
	defer crypto.Zero(pass)
	defer crypto.Zero(req.Key)
	esc, err := s.svc.CreateEscrow(r.Context(), core.EscrowRequest{
		OwnerID:    self(r),
		KeyID:      req.KeyID,
		Key:        req.Key,
		Passphrase: pass,
		Devices:    req.Devices,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, esc)
}

func (s *Server) handleRecoverEscrow(w http.ResponseWriter, r *http.Request) {
	var req recoverReq
	if !decode(w, r, &req) {
		return
	}
	pass := []byte(req.Passphrase)
	defer crypto.Zero(pass)
	key, err := s.svc.RecoverEscrow(r.Context(), req.EscrowID, self(r), pass)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, recoverResp{Key: key})
}
