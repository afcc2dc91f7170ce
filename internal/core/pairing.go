package core

import (
	"context"
	"fmt"
	"strconv"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/audit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/pairing"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/ratelimit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/trust"
)

// GeneratePairingCode mints a one-time code for a trusted device.
func (s *Service) GeneratePairingCode(ctx context.Context, c Caller, deviceID string, ttlMinutes int, format pairing.Format) (*pairing.Code, error) {
	if err := s.allow(ratelimit.Strict, "pairing.generate", c); err != nil {
		return nil, err
	}
	d, err := s.devices.Get(ctx, deviceID)
	if err == nil && !(d.Active && d.Trusted) {
		err = fmt.Errorf("%w: only trusted devices issue pairing codes", trust.ErrGrantorNotTrusted)
	}
	var code *pairing.Code
	if err == nil {
		code, err = s.pairing.Issue(ctx, deviceID, ttlMinutes, format)
	}
	e := audit.Event{
		Type:     audit.PairingIssue,
		Actor:    deviceID,
		DeviceID: deviceID,
		Detail:   map[string]string{"format": string(format), "ttlMinutes": strconv.Itoa(ttlMinutes)},
	}
	if code != nil {
		e.Detail["format"] = string(code.Format)
		e.Detail["code"] = auth.Preview(code.Code)
	}
	s.record(ctx, e, err)
	return code, err
}

// PairingResult is what a redeeming device learns: who issued the code, the
// issuer's public key for key agreement, and the resulting PAIRED edge.
type PairingResult struct {
	IssuingDeviceID string
	IssuerPublicKey []byte
	Relationship    *trust.Relationship
}

// RedeemPairingCode consumes code for requestingDeviceID and records the
// issuer -> requester PAIRED edge. payload is an optional opaque encrypted
// trust payload stored on the edge.
func (s *Service) RedeemPairingCode(ctx context.Context, c Caller, code, requestingDeviceID string, payload []byte) (*PairingResult, error) {
	// Keyed on IP only: the requester ID is caller-chosen during guessing.
	if err := s.allow(ratelimit.Strict, "pairing.redeem", Caller{IP: c.IP}); err != nil {
		return nil, err
	}
	res, err := s.redeem(ctx, code, requestingDeviceID, payload)
	e := audit.Event{
		Type:     audit.PairingRedeem,
		Actor:    requestingDeviceID,
		DeviceID: requestingDeviceID,
		Detail:   map[string]string{"code": auth.Preview(pairing.Normalize(code))},
	}
	if res != nil {
		e.TargetID = res.IssuingDeviceID
	}
	s.record(ctx, e, err)
	return res, err
}

func (s *Service) redeem(ctx context.Context, code, requestingDeviceID string, payload []byte) (*PairingResult, error) {
	// Reject unknown or retired requesters before the code is consumed.
	requester, err := s.devices.Get(ctx, requestingDeviceID)
	if err != nil {
		return nil, err
	}
	if !requester.Active {
		return nil, fmt.Errorf("%w: %s", trust.ErrDeviceInactive, requestingDeviceID)
	}
	redeemed, err := s.pairing.Redeem(ctx, code, requestingDeviceID)
	if err != nil {
		return nil, err
	}
	rel, err := s.devices.Pair(ctx, redeemed.DeviceID, requestingDeviceID, payload)
	if err != nil {
		return nil, err
	}
	issuer, err := s.devices.Get(ctx, redeemed.DeviceID)
	if err != nil {
		return nil, err
	}
	return &PairingResult{
		IssuingDeviceID: redeemed.DeviceID,
		IssuerPublicKey: issuer.PublicKey,
		Relationship:    rel,
	}, nil
}
