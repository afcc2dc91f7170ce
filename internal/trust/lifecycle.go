package trust

import (
	"context"
	"fmt"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
)

func (m *Manager) Get(ctx context.Context, deviceID string) (*Device, error) {
	d, err := m.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, unknown(err, deviceID)
	}
	return d, nil
}

// Fingerprint returns the fingerprint recorded at registration, so the
// manager can serve as the fingerprint service's registry.
func (m *Manager) Fingerprint(ctx context.Context, deviceID string) (string, error) {
	d, err := m.Get(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if !d.Active {
		return "", ErrDeviceInactive
	}
	return d.Fingerprint, nil
}

// Heartbeat records that deviceID was seen now.
func (m *Manager) Heartbeat(ctx context.Context, deviceID string) error {
	unlock := m.locks.Lock(deviceID)
	defer unlock()

	d, err := m.store.GetDevice(ctx, deviceID)
	if err != nil {
		return unknown(err, deviceID)
	}
	if !d.Active {
		return fmt.Errorf("%w: %s", ErrDeviceInactive, deviceID)
	}
	now := m.now().UTC()
	d.LastSeenAt = now
	return m.store.SaveDevice(ctx, d)
}

// SetPublicKey replaces deviceID's X25519 public key. Callers must have
// authenticated as deviceID; peers that paired earlier keep whatever key
// they were handed at redemption.
func (m *Manager) SetPublicKey(ctx context.Context, deviceID string, publicKey []byte) (*Device, error) {
	if err := keys.ValidatePublicKey(publicKey); err != nil {
		return nil, fmt.Errorf("%w: public key must be 32 raw X25519 bytes", err)
	}
	unlock := m.locks.Lock(deviceID)
	defer unlock()

	d, err := m.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, unknown(err, deviceID)
	}
	if !d.Active {
		return nil, fmt.Errorf("%w: %s", ErrDeviceInactive, deviceID)
	}
	now := m.now().UTC()
	d.PublicKey = append([]byte(nil), publicKey...)
	d.UpdatedAt = now
	d.LastSeenAt = now
	if err := m.store.SaveDevice(ctx, d); err != nil {
		return nil, err
	}
	m.log.Info().Str("device_id", deviceID).Msg("device public key replaced")
	return d, nil
}

// Deactivate retires deviceID for good: it loses trust and permissions, its
// inbound edges go inactive and it can no longer be granted trust. The record
// itself is kept. Deactivating twice is a no-op.
func (m *Manager) Deactivate(ctx context.Context, deviceID string) (*Device, error) {
	unlock := m.locks.Lock(deviceID)
	defer unlock()

	d, err := m.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, unknown(err, deviceID)
	}
	if !d.Active {
		return d, nil
	}
	now := m.now().UTC()
	d.Active = false
	d.Trusted = false
	d.Root = false
	if d.Status == StatusTrusted {
		d.Status = StatusRevoked
		d.RevokedAt = &now
	}
	d.Permissions = Permissions{}
	d.UpdatedAt = now
	if err := m.store.SaveDevice(ctx, d); err != nil {
		return nil, err
	}
	if _, err := m.store.DeactivateInbound(ctx, deviceID, now); err != nil {
		return nil, err
	}
	m.log.Info().Str("device_id", deviceID).Msg("device deactivated")
	return d, nil
}

// Status reports whether deviceID is trusted and active. It satisfies the
// session package's device check.
func (m *Manager) Status(ctx context.Context, deviceID string) (trusted, active bool, err error) {
	d, err := m.Get(ctx, deviceID)
	if err != nil {
		return false, false, err
	}
	return d.Trusted, d.Active, nil
}
