package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/syncx"
)

type Config struct {
	MaxPerDevice    int           `yaml:"max_per_device" toml:"max_per_device"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" toml:"cleanup_interval"`
}

func (c *Config) setDefaults() {
	if c.MaxPerDevice <= 0 {
		c.MaxPerDevice = 5
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
}

// Manager is the SessionManager. Everything that reads a device's active
// sessions and then writes holds that device's lock.
type Manager struct {
	cfg     Config
	store   Store
	tokens  TokenIssuer
	devices DeviceChecker
	locks   *syncx.KeyedMutex
	log     zerolog.Logger
	now     func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l.With().Str("component", "session").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg Config, store Store, tokens TokenIssuer, devices DeviceChecker, opts ...Option) *Manager {
	cfg.setDefaults()
	m := &Manager{
		cfg:     cfg,
		store:   store,
		tokens:  tokens,
		devices: devices,
		locks:   syncx.NewKeyedMutex(),
		log:     zerolog.Nop(),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create stores a session for already-minted tokens, evicting the device's
// oldest active sessions first if it is at the cap. The evicted sessions are
// returned.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Session, []Session, error) {
	if p.DeviceID == "" || p.AccessToken == "" || p.RefreshToken == "" {
		return nil, nil, errors.New("session: device id and both tokens are required")
	}
	unlock := m.locks.Lock(p.DeviceID)
	defer unlock()
	return m.createLocked(ctx, p)
}

func (m *Manager) createLocked(ctx context.Context, p CreateParams) (*Session, []Session, error) {
	now := m.now().UTC()
	evicted, err := m.makeRoom(ctx, p.DeviceID, now)
	if err != nil {
		return nil, nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, err
	}
	s := &Session{
		ID:               id.String(),
		DeviceID:         p.DeviceID,
		AccessHash:       auth.HashToken(p.AccessToken),
		RefreshHash:      auth.HashToken(p.RefreshToken),
		IssuedAt:         now,
		ExpiresAt:        p.ExpiresAt.UTC(),
		RefreshExpiresAt: p.RefreshExpiresAt.UTC(),
		Active:           true,
		IP:               p.IP,
		UserAgent:        p.UserAgent,
	}
	if s.RefreshExpiresAt.Before(s.ExpiresAt) {
		s.RefreshExpiresAt = s.ExpiresAt
	}
	if err := m.store.Insert(ctx, s); err != nil {
		return nil, nil, err
	}
	m.log.Info().
		Str("session_id", s.ID).
		Str("device_id", s.DeviceID).
		Str("token", auth.Preview(p.AccessToken)).
		Int("evicted", len(evicted)).
		Msg("session created")
	return s, evicted, nil
}

// makeRoom revokes the oldest live sessions of deviceID until one slot is
// free under the cap. Expired sessions are retired along the way and do not
// count.
func (m *Manager) makeRoom(ctx context.Context, deviceID string, now time.Time) ([]Session, error) {
	sessions, err := m.store.ActiveForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	live := sessions[:0]
	for _, s := range sessions {
		if s.live(now) {
			live = append(live, s)
			continue
		}
		if _, err := m.store.Deactivate(ctx, s.ID, now, ReasonExpired); err != nil {
			return nil, err
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if !live[i].IssuedAt.Equal(live[j].IssuedAt) {
			return live[i].IssuedAt.Before(live[j].IssuedAt)
		}
		return live[i].ID < live[j].ID
	})

	var evicted []Session
	for len(live) >= m.cfg.MaxPerDevice {
		oldest := live[0]
		live = live[1:]
		if _, err := m.store.Deactivate(ctx, oldest.ID, now, ReasonEvicted); err != nil {
			return nil, err
		}
		oldest.Active = false
		oldest.RevokedAt = &now
		oldest.RevokeReason = ReasonEvicted
		evicted = append(evicted, oldest)
		m.log.Info().Str("session_id", oldest.ID).Str("device_id", deviceID).Msg("session evicted")
	}
	return evicted, nil
}

// Issue mints a token pair for deviceID and stores the session. The device
// must exist and be active.
func (m *Manager) Issue(ctx context.Context, deviceID string, meta Meta) (*Issued, error) {
	_, active, err := m.devices.Status(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrDeviceInactive
	}
	unlock := m.locks.Lock(deviceID)
	defer unlock()
	return m.issueLocked(ctx, deviceID, meta)
}

func (m *Manager) issueLocked(ctx context.Context, deviceID string, meta Meta) (*Issued, error) {
	pair, err := m.tokens.IssuePair(deviceID)
	if err != nil {
		return nil, err
	}
	s, evicted, err := m.createLocked(ctx, CreateParams{
		DeviceID:         deviceID,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		IP:               meta.IP,
		UserAgent:        meta.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	return &Issued{Session: s, Tokens: pair, Evicted: evicted}, nil
}

// GetByAccessToken returns the active session whose access token is token.
// Revoked or expired matches are reported as ErrSessionNotFound.
func (m *Manager) GetByAccessToken(ctx context.Context, token string) (*Session, error) {
	s, err := m.store.FindByAccessHash(ctx, auth.HashToken(token))
	if err != nil {
		return nil, err
	}
	if !s.Active || !m.now().Before(s.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) GetByRefreshToken(ctx context.Context, token string) (*Session, error) {
	s, err := m.store.FindByRefreshHash(ctx, auth.HashToken(token))
	if err != nil {
		return nil, err
	}
	if !s.Active || !m.now().Before(s.RefreshExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ActiveAccess adapts GetByAccessToken to auth.SessionCheck.
func (m *Manager) ActiveAccess(ctx context.Context, token string) (string, error) {
	s, err := m.GetByAccessToken(ctx, token)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// Refresh trades a refresh token for a new session. The old session is
// revoked first, so each refresh token works once. The owning device must
// still be trusted and active.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, meta Meta) (*Issued, error) {
	claims, err := m.tokens.ParseAndValidate(refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(claims.DeviceID)
	defer unlock()

	old, err := m.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if old.DeviceID != claims.DeviceID {
		return nil, auth.ErrTokenInvalid
	}
	trusted, active, err := m.devices.Status(ctx, old.DeviceID)
	if err != nil || !trusted || !active {
		if _, derr := m.store.Deactivate(ctx, old.ID, m.now().UTC(), ReasonDevice); derr != nil {
			m.log.Warn().Err(derr).Str("session_id", old.ID).Msg("deactivate on refresh failed")
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrDeviceInactive
	}

	changed, err := m.store.Deactivate(ctx, old.ID, m.now().UTC(), ReasonRefreshed)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrSessionNotFound
	}
	if meta.IP == "" {
		meta.IP = old.IP
	}
	if meta.UserAgent == "" {
		meta.UserAgent = old.UserAgent
	}
	issued, err := m.issueLocked(ctx, old.DeviceID, meta)
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("session_id", issued.Session.ID).Str("previous", old.ID).Msg("session refreshed")
	return issued, nil
}

// Revoke deactivates one session. Revoking an inactive session succeeds
// without change; an unknown ID is ErrSessionNotFound.
func (m *Manager) Revoke(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return s, nil
	}
	now := m.now().UTC()
	changed, err := m.store.Deactivate(ctx, sessionID, now, ReasonRevoked)
	if err != nil {
		return nil, err
	}
	if changed {
		s.Active = false
		s.RevokedAt = &now
		s.RevokeReason = ReasonRevoked
		m.log.Info().Str("session_id", sessionID).Str("device_id", s.DeviceID).Msg("session revoked")
	}
	return s, nil
}

// RevokeAllForDevice deactivates every active session of deviceID and
// returns how many were active.
func (m *Manager) RevokeAllForDevice(ctx context.Context, deviceID, reason string) (int, error) {
	if reason == "" {
		reason = ReasonRevoked
	}
	unlock := m.locks.Lock(deviceID)
	defer unlock()

	sessions, err := m.store.ActiveForDevice(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	now := m.now().UTC()
	n := 0
	for _, s := range sessions {
		changed, err := m.store.Deactivate(ctx, s.ID, now, reason)
		if err != nil {
			return n, fmt.Errorf("session: revoke %s: %w", s.ID, err)
		}
		if changed {
			n++
		}
	}
	if n > 0 {
		m.log.Info().Str("device_id", deviceID).Int("sessions", n).Str("reason", reason).Msg("device sessions revoked")
	}
	return n, nil
}

// ActiveSessions lists deviceID's live sessions, oldest first.
func (m *Manager) ActiveSessions(ctx context.Context, deviceID string) ([]Session, error) {
	sessions, err := m.store.ActiveForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := sessions[:0]
	for _, s := range sessions {
		if s.live(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

// Get returns a session by ID in whatever state it is in.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.store.Get(ctx, sessionID)
}
