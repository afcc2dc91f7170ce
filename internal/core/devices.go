package core

import (
	"context"
	"strconv"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/audit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/fingerprint"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/ratelimit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/session"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/trust"
)

type RegisterRequest struct {
	UserID    string
	Info      fingerprint.DeviceInfo
	PublicKey []byte
}

// Register records a device in the untrusted state, or returns the existing
// record when the same user registers the same device again.
func (s *Service) Register(ctx context.Context, c Caller, req RegisterRequest) (*trust.Registration, error) {
	if err := s.allow(ratelimit.Strict, "device.register", c); err != nil {
		return nil, err
	}
	reg, err := s.devices.Register(ctx, req.UserID, req.Info, req.PublicKey)
	if err != nil {
		s.record(ctx, audit.Event{Type: audit.DeviceRegister, Actor: req.UserID}, err)
		return nil, err
	}
	if reg.Created {
		s.record(ctx, audit.Event{
			Type:     audit.DeviceRegister,
			Actor:    req.UserID,
			DeviceID: reg.DeviceID,
			Detail:   map[string]string{"platform": string(reg.Device.Components.Platform)},
		}, nil)
	}
	return reg, nil
}

type TrustRequest struct {
	DeviceID    string
	GrantorID   string
	Permissions trust.Permissions
	// Level defaults to TRUSTED.
	Level   trust.Level
	Payload []byte
}

// Trust has an already-trusted grantor extend trust to a device.
func (s *Service) Trust(ctx context.Context, req TrustRequest) (*trust.Device, error) {
	level := req.Level
	if level == trust.LevelNone {
		level = trust.LevelTrusted
	}
	d, err := s.devices.TrustAtLevel(ctx, req.DeviceID, req.GrantorID, req.Permissions, level, req.Payload)
	s.record(ctx, audit.Event{
		Type:     audit.TrustGrant,
		Actor:    req.GrantorID,
		DeviceID: req.DeviceID,
		Detail: map[string]string{
			"level":    level.String(),
			"canRead":  strconv.FormatBool(req.Permissions.CanRead),
			"canWrite": strconv.FormatBool(req.Permissions.CanWrite),
			"canShare": strconv.FormatBool(req.Permissions.CanShare),
		},
	}, err)
	return d, err
}

// RevokeTrust clears a device's trust and ends all of its sessions.
func (s *Service) RevokeTrust(ctx context.Context, deviceID, revokedByID string) (*trust.Device, error) {
	d, err := s.devices.Revoke(ctx, deviceID, revokedByID)
	if err != nil {
		s.record(ctx, audit.Event{Type: audit.TrustRevoke, Actor: revokedByID, DeviceID: deviceID}, err)
		return nil, err
	}
	n, err := s.sessions.RevokeAllForDevice(ctx, deviceID, session.ReasonDevice)
	s.record(ctx, audit.Event{
		Type:     audit.TrustRevoke,
		Actor:    revokedByID,
		DeviceID: deviceID,
		Detail:   map[string]string{"sessions": strconv.Itoa(n)},
	}, err)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// BootstrapRoot is the administrative root-of-trust issuance.
func (s *Service) BootstrapRoot(ctx context.Context, deviceID, actor string) (*trust.Device, error) {
	d, err := s.devices.BootstrapRoot(ctx, deviceID, actor)
	s.record(ctx, audit.Event{Type: audit.TrustRoot, Actor: actor, DeviceID: deviceID}, err)
	return d, err
}

// Deactivate retires a device and ends all of its sessions.
func (s *Service) Deactivate(ctx context.Context, deviceID, actor string) (*trust.Device, error) {
	d, err := s.devices.Deactivate(ctx, deviceID)
	if err != nil {
		s.record(ctx, audit.Event{Type: audit.DeviceDeactivate, Actor: actor, DeviceID: deviceID}, err)
		return nil, err
	}
	n, err := s.sessions.RevokeAllForDevice(ctx, deviceID, session.ReasonDevice)
	s.record(ctx, audit.Event{
		Type:     audit.DeviceDeactivate,
		Actor:    actor,
		DeviceID: deviceID,
		Detail:   map[string]string{"sessions": strconv.Itoa(n)},
	}, err)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// SetPublicKey replaces the calling device's public key.
func (s *Service) SetPublicKey(ctx context.Context, deviceID string, publicKey []byte) (*trust.Device, error) {
	d, err := s.devices.SetPublicKey(ctx, deviceID, publicKey)
	s.record(ctx, audit.Event{Type: audit.DeviceKey, Actor: deviceID, DeviceID: deviceID}, err)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Heartbeat(ctx context.Context, deviceID string) error {
	return s.devices.Heartbeat(ctx, deviceID)
}

func (s *Service) Device(ctx context.Context, deviceID string) (*trust.Device, error) {
	return s.devices.Get(ctx, deviceID)
}

func (s *Service) IsTrusted(ctx context.Context, deviceID string) bool {
	return s.devices.IsTrusted(ctx, deviceID)
}

func (s *Service) HasPermission(ctx context.Context, deviceID string, perm trust.Permission) bool {
	return s.devices.HasPermission(ctx, deviceID, perm)
}
