package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/audit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/trust"
)

// DeriveDeviceKey rederives the key bound to deviceID's identity and secret.
func (s *Service) DeriveDeviceKey(ctx context.Context, deviceID string, secret []byte) (*keys.DeviceKey, error) {
	fp, err := s.devices.Fingerprint(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s.keys.DeriveDeviceKey(deviceID, secret, fp)
}

// requireTrusted fails with ErrTargetNotTrusted naming the first device in
// ids that is not trusted and active.
func (s *Service) requireTrusted(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if !s.devices.IsTrusted(ctx, id) {
			return fmt.Errorf("%w: %s", trust.ErrTargetNotTrusted, id)
		}
	}
	return nil
}

// SplitKey creates a fresh key split across trusted devices. ownerID must
// itself be trusted.
func (s *Service) SplitKey(ctx context.Context, ownerID string, deviceIDs []string, threshold int) (*keys.SplitResult, error) {
	res, err := s.splitKey(ctx, ownerID, deviceIDs, threshold)
	e := audit.Event{
		Type:     audit.KeySplit,
		Actor:    ownerID,
		DeviceID: ownerID,
		Detail: map[string]string{
			"threshold": strconv.Itoa(threshold),
			"devices":   strings.Join(deviceIDs, ","),
		},
	}
	if res != nil {
		e.TargetID = res.KeyID
	}
	s.record(ctx, e, err)
	return res, err
}

func (s *Service) splitKey(ctx context.Context, ownerID string, deviceIDs []string, threshold int) (*keys.SplitResult, error) {
	if !s.devices.IsTrusted(ctx, ownerID) {
		return nil, fmt.Errorf("%w: %s", trust.ErrGrantorNotTrusted, ownerID)
	}
	if err := s.requireTrusted(ctx, deviceIDs); err != nil {
		return nil, err
	}
	return s.keys.SplitKey(deviceIDs, threshold)
}

type EscrowRequest struct {
	OwnerID    string
	KeyID      string
	Key        []byte
	Passphrase []byte
	Devices    []string
}

// CreateEscrow seals a key under a passphrase for a set of trusted devices.
func (s *Service) CreateEscrow(ctx context.Context, req EscrowRequest) (*keys.Escrow, error) {
	esc, err := s.createEscrow(ctx, req)
	e := audit.Event{
		Type:     audit.KeyEscrow,
		Actor:    req.OwnerID,
		DeviceID: req.OwnerID,
		Detail:   map[string]string{"devices": strings.Join(req.Devices, ",")},
	}
	if esc != nil {
		e.TargetID = esc.ID
	}
	s.record(ctx, e, err)
	return esc, err
}

func (s *Service) createEscrow(ctx context.Context, req EscrowRequest) (*keys.Escrow, error) {
	if !s.devices.IsTrusted(ctx, req.OwnerID) {
		return nil, fmt.Errorf("%w: %s", trust.ErrGrantorNotTrusted, req.OwnerID)
	}
	if err := s.requireTrusted(ctx, req.Devices); err != nil {
		return nil, err
	}
	return s.keys.CreateEscrow(ctx, req.Key, req.Passphrase, req.Devices, req.KeyID)
}

// LoadEscrow returns a stored escrow to one of its listed devices.
func (s *Service) LoadEscrow(ctx context.Context, escrowID, deviceID string) (*keys.Escrow, error) {
	if !s.devices.IsTrusted(ctx, deviceID) {
		return nil, keys.ErrEscrowNotFound
	}
	return s.keys.LoadEscrow(ctx, escrowID, deviceID)
}

// RecoverEscrow loads and unwraps an escrow for deviceID.
func (s *Service) RecoverEscrow(ctx context.Context, escrowID, deviceID string, passphrase []byte) ([]byte, error) {
	e, err := s.LoadEscrow(ctx, escrowID, deviceID)
	if err != nil {
		return nil, err
	}
	return s.keys.RecoverEscrow(e, passphrase)
}

// RotateKeys advances the key version when the rotation interval has passed.
func (s *Service) RotateKeys(ctx context.Context, actor string) (bool, uint64) {
	rotated, version := s.keys.Rotate()
	if rotated {
		s.record(ctx, audit.Event{
			Type:   audit.KeyRotate,
			Actor:  actor,
			Detail: map[string]string{"version": strconv.FormatUint(version, 10)},
		}, nil)
	}
	return rotated, version
}

// ShareResource grants targets access to a resource on behalf of fromID.
func (s *Service) ShareResource(ctx context.Context, resourceID, fromID string, targets []string, perms trust.Permissions, expiresAt *time.Time) ([]trust.Grant, error) {
	grants, err := s.devices.ShareResource(ctx, resourceID, fromID, targets, perms, expiresAt)
	e := audit.Event{
		Type:     audit.ResourceShare,
		Actor:    fromID,
		DeviceID: fromID,
		TargetID: resourceID,
		Detail:   map[string]string{"targets": strings.Join(targets, ",")},
	}
	s.record(ctx, e, err)
	return grants, err
}

func (s *Service) CanAccess(ctx context.Context, resourceID, deviceID string, perm trust.Permission) bool {
	return s.devices.CanAccess(ctx, resourceID, deviceID, perm)
}
