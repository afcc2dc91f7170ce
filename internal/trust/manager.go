// Package trust maintains the device trust graph. Devices start untrusted;
// only an already-trusted device, or an explicit root bootstrap, can extend
// trust, and a grantor can never hand out more trust than it holds.
package trust

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/fingerprint"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/syncx"
)

// Manager is the TrustGraphManager. Mutations of one device are serialized
// through a per-device lock; the store sees one writer per target.
type Manager struct {
	store Store
	fp    *fingerprint.Service
	locks *syncx.KeyedMutex
	log   zerolog.Logger
	now   func() time.Time
}

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l.With().Str("component", "trust").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, fp *fingerprint.Service, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		fp:    fp,
		locks: syncx.NewKeyedMutex(),
		log:   zerolog.Nop(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type Registration struct {
	DeviceID      string  `json:"deviceId"`
	RequiresTrust bool    `json:"requiresTrust"`
	Fingerprint   string  `json:"fingerprint,omitempty"`
	Created       bool    `json:"-"`
	Device        *Device `json:"-"`
}

// Register records the device described by info for userID in the untrusted
// state. The device ID is derived from the user and the coarsened
// fingerprint, so registering the same device twice returns the existing
// record. publicKey, when given, must be a raw X25519 public key.
//
// Registration is unauthenticated, so a repeat call only refreshes
// last-seen. It never returns the fingerprint again and never changes the
// stored public key; a different key is ErrPublicKeyConflict. Keys are
// replaced through SetPublicKey by the device's own session.
func (m *Manager) Register(ctx context.Context, userID string, info fingerprint.DeviceInfo, publicKey []byte) (*Registration, error) {
	if userID == "" {
		return nil, errors.New("trust: empty user id")
	}
	if len(publicKey) > 0 {
		if err := keys.ValidatePublicKey(publicKey); err != nil {
			return nil, fmt.Errorf("%w: public key must be 32 raw X25519 bytes", err)
		}
	}
	res := m.fp.Generate(info)
	id := m.fp.DeviceID(userID, res.Fingerprint)

	unlock := m.locks.Lock(id)
	defer unlock()

	now := m.now().UTC()
	existing, err := m.store.GetDevice(ctx, id)
	switch {
	case err == nil:
		if !existing.Active {
			return nil, ErrDeviceInactive
		}
		if len(publicKey) > 0 && !bytes.Equal(existing.PublicKey, publicKey) {
			m.log.Warn().Str("device_id", id).Msg("re-registration with a different public key rejected")
			return nil, fmt.Errorf("%w: %s", ErrPublicKeyConflict, id)
		}
		existing.LastSeenAt = now
		if err := m.store.SaveDevice(ctx, existing); err != nil {
			return nil, err
		}
		return &Registration{DeviceID: id, RequiresTrust: !existing.trusted(), Device: existing}, nil
	case !errors.Is(err, ErrUnknownDevice):
		return nil, err
	}

	d := &Device{
		ID:          id,
		UserID:      userID,
		Type:        res.Components.DeviceType,
		Version:     info.DeviceVersion,
		Components:  res.Components,
		Fingerprint: res.Fingerprint,
		PublicKey:   append([]byte(nil), publicKey...),
		Status:      StatusUntrusted,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastSeenAt:  now,
	}
	if err := m.store.CreateDevice(ctx, d); err != nil {
		return nil, err
	}
	m.log.Info().Str("device_id", id).Str("platform", string(res.Components.Platform)).Msg("device registered")
	return &Registration{DeviceID: id, RequiresTrust: true, Fingerprint: res.Fingerprint, Created: true, Device: d}, nil
}

// Trust grants deviceID full trust on behalf of trustedByID with perms.
func (m *Manager) Trust(ctx context.Context, deviceID, trustedByID string, perms Permissions) (*Device, error) {
	return m.TrustAtLevel(ctx, deviceID, trustedByID, perms, LevelTrusted, nil)
}

// TrustAtLevel creates or updates the edge trustedByID -> deviceID at level.
// The grantor must be trusted and hold at least level itself. Only a
// TRUSTED edge flips the target's trust flag and assigns perms; lower levels
// only record the relationship. payload is stored opaquely on the edge.
func (m *Manager) TrustAtLevel(ctx context.Context, deviceID, trustedByID string, perms Permissions, level Level, payload []byte) (*Device, error) {
	if !level.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	if deviceID == trustedByID {
		return nil, ErrSelfTrust
	}

	unlock := m.locks.Lock(deviceID)
	defer unlock()

	target, err := m.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, unknown(err, deviceID)
	}
	grantor, err := m.store.GetDevice(ctx, trustedByID)
	if err != nil {
		return nil, unknown(err, trustedByID)
	}
	if !grantor.trusted() {
		return nil, fmt.Errorf("%w: %s", ErrGrantorNotTrusted, trustedByID)
	}
	if !target.Active {
		return nil, fmt.Errorf("%w: %s", ErrDeviceInactive, deviceID)
	}
	have, err := m.effectiveLevel(ctx, grantor)
	if err != nil {
		return nil, err
	}
	if have < level {
		return nil, fmt.Errorf("%w: grantor holds %s, requested %s", ErrInsufficientTrustLevel, have, level)
	}

	now := m.now().UTC()
	if err := m.putEdge(ctx, trustedByID, deviceID, level, payload, now); err != nil {
		return nil, err
	}
	if level == LevelTrusted {
		target.Trusted = true
		target.Status = StatusTrusted
		target.TrustedBy = trustedByID
		target.Permissions = perms
		target.TrustedAt = &now
		target.RevokedAt = nil
		target.RevokedBy = ""
	}
	target.UpdatedAt = now
	if err := m.store.SaveDevice(ctx, target); err != nil {
		return nil, err
	}
	m.log.Info().
		Str("device_id", deviceID).
		Str("granted_by", trustedByID).
		Str("level", level.String()).
		Msg("trust granted")
	return target, nil
}

func (m *Manager) putEdge(ctx context.Context, source, target string, level Level, payload []byte, now time.Time) error {
	e, err := m.store.GetEdge(ctx, source, target)
	switch {
	case errors.Is(err, ErrEdgeNotFound):
		e = &Relationship{ID: edgeID(source, target), Source: source, Target: target, CreatedAt: now}
	case err != nil:
		return err
	}
	e.Level = level
	e.Active = true
	e.UpdatedAt = now
	if payload != nil {
		e.Payload = append([]byte(nil), payload...)
	}
	return m.store.PutEdge(ctx, e)
}

// Revoke clears deviceID's trust flag and permissions and deactivates every
// edge pointing at it. The revoker must itself be trusted. Revoking a device
// that is not trusted succeeds without changing it.
func (m *Manager) Revoke(ctx context.Context, deviceID, revokedByID string) (*Device, error) {
	unlock := m.locks.Lock(deviceID)
	defer unlock()

	target, err := m.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, unknown(err, deviceID)
	}
	revoker := target
	if revokedByID != deviceID {
		if revoker, err = m.store.GetDevice(ctx, revokedByID); err != nil {
			return nil, unknown(err, revokedByID)
		}
	}
	if !revoker.trusted() {
		return nil, fmt.Errorf("%w: %s", ErrGrantorNotTrusted, revokedByID)
	}
	if !target.Trusted && target.Status != StatusTrusted {
		return target, nil
	}

	now := m.now().UTC()
	target.Trusted = false
	target.Root = false
	target.Status = StatusRevoked
	target.Permissions = Permissions{}
	target.RevokedAt = &now
	target.RevokedBy = revokedByID
	target.UpdatedAt = now
	if err := m.store.SaveDevice(ctx, target); err != nil {
		return nil, err
	}
	n, err := m.store.DeactivateInbound(ctx, deviceID, now)
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("device_id", deviceID).Str("revoked_by", revokedByID).Int("edges", n).Msg("trust revoked")
	return target, nil
}

// BootstrapRoot makes deviceID a root of trust. It is the only path to trust
// that does not go through an already-trusted grantor and must only be
// reachable from an administrative surface.
func (m *Manager) BootstrapRoot(ctx context.Context, deviceID, actor string) (*Device, error) {
	if actor == "" {
		return nil, errors.New("trust: root bootstrap needs an actor")
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
	d.Trusted = true
	d.Root = true
	d.Status = StatusTrusted
	d.TrustedBy = "root:" + actor
	d.Permissions = AllPermissions()
	d.TrustedAt = &now
	d.RevokedAt = nil
	d.RevokedBy = ""
	d.UpdatedAt = now
	if err := m.store.SaveDevice(ctx, d); err != nil {
		return nil, err
	}
	m.log.Warn().Str("device_id", deviceID).Str("actor", actor).Msg("root trust issued")
	return d, nil
}

// EffectiveLevel is the most trust deviceID can pass on: TRUSTED for roots,
// otherwise the highest active inbound edge, and none for untrusted or
// inactive devices.
func (m *Manager) EffectiveLevel(ctx context.Context, deviceID string) (Level, error) {
	d, err := m.store.GetDevice(ctx, deviceID)
	if err != nil {
		return LevelNone, unknown(err, deviceID)
	}
	return m.effectiveLevel(ctx, d)
}

func (m *Manager) effectiveLevel(ctx context.Context, d *Device) (Level, error) {
	if !d.trusted() {
		return LevelNone, nil
	}
	if d.Root {
		return LevelTrusted, nil
	}
	edges, err := m.store.InboundEdges(ctx, d.ID)
	if err != nil {
		return LevelNone, err
	}
	best := LevelNone
	for _, e := range edges {
		if e.Active && e.Level > best {
			best = e.Level
		}
	}
	return best, nil
}

// Pair records the PAIRED edge created when redeemerID redeems a code issued
// by issuerID. It never lowers an existing active edge and never sets the
// redeemer's trust flag.
func (m *Manager) Pair(ctx context.Context, issuerID, redeemerID string, payload []byte) (*Relationship, error) {
	if issuerID == redeemerID {
		return nil, ErrSelfTrust
	}
	unlock := m.locks.Lock(redeemerID)
	defer unlock()

	redeemer, err := m.store.GetDevice(ctx, redeemerID)
	if err != nil {
		return nil, unknown(err, redeemerID)
	}
	if !redeemer.Active {
		return nil, fmt.Errorf("%w: %s", ErrDeviceInactive, redeemerID)
	}
	issuer, err := m.store.GetDevice(ctx, issuerID)
	if err != nil {
		return nil, unknown(err, issuerID)
	}
	if !issuer.trusted() {
		return nil, fmt.Errorf("%w: %s", ErrGrantorNotTrusted, issuerID)
	}

	now := m.now().UTC()
	level := LevelPaired
	if e, err := m.store.GetEdge(ctx, issuerID, redeemerID); err == nil && e.Active && e.Level > level {
		level = e.Level
	} else if err != nil && !errors.Is(err, ErrEdgeNotFound) {
		return nil, err
	}
	if err := m.putEdge(ctx, issuerID, redeemerID, level, payload, now); err != nil {
		return nil, err
	}
	redeemer.LastSeenAt = now
	redeemer.UpdatedAt = now
	if err := m.store.SaveDevice(ctx, redeemer); err != nil {
		return nil, err
	}
	m.log.Info().Str("device_id", redeemerID).Str("issuer", issuerID).Msg("devices paired")
	return m.store.GetEdge(ctx, issuerID, redeemerID)
}

// Relationship returns the edge source -> target.
func (m *Manager) Relationship(ctx context.Context, source, target string) (*Relationship, error) {
	return m.store.GetEdge(ctx, source, target)
}

// InboundRelationships lists every edge pointing at deviceID, active or not.
func (m *Manager) InboundRelationships(ctx context.Context, deviceID string) ([]Relationship, error) {
	return m.store.InboundEdges(ctx, deviceID)
}

// IsTrusted never fails: a missing or unreadable record is untrusted.
func (m *Manager) IsTrusted(ctx context.Context, deviceID string) bool {
	d, err := m.store.GetDevice(ctx, deviceID)
	return err == nil && d.trusted()
}

// HasPermission never fails: a missing record has no permissions.
func (m *Manager) HasPermission(ctx context.Context, deviceID string, perm Permission) bool {
	d, err := m.store.GetDevice(ctx, deviceID)
	return err == nil && d.trusted() && d.Permissions.Has(perm)
}

func unknown(err error, id string) error {
	if errors.Is(err, ErrUnknownDevice) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return err
}
