// Package session tracks bearer sessions per device. Only hashes of the
// tokens are stored, each device holds a bounded number of active sessions,
// and refresh tokens are single-use.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrDeviceInactive  = errors.New("session: device not trusted or inactive")
	// ErrSessionLimitExceeded is handled by evicting the oldest sessions and
	// never reaches callers.
	ErrSessionLimitExceeded = errors.New("session: limit exceeded")
)

// Revocation reasons recorded on sessions.
const (
	ReasonEvicted   = "evicted"
	ReasonRefreshed = "refreshed"
	ReasonRevoked   = "revoked"
	ReasonExpired   = "expired"
	ReasonDevice    = "device_revoked"
)

type Session struct {
	ID               string     `json:"id" bson:"_id"`
	DeviceID         string     `json:"deviceId" bson:"device_id"`
	AccessHash       string     `json:"-" bson:"access_hash"`
	RefreshHash      string     `json:"-" bson:"refresh_hash"`
	IssuedAt         time.Time  `json:"issuedAt" bson:"issued_at"`
	ExpiresAt        time.Time  `json:"expiresAt" bson:"expires_at"`
	RefreshExpiresAt time.Time  `json:"refreshExpiresAt" bson:"refresh_expires_at"`
	Active           bool       `json:"active" bson:"active"`
	RevokedAt        *time.Time `json:"revokedAt,omitempty" bson:"revoked_at,omitempty"`
	RevokeReason     string     `json:"revokeReason,omitempty" bson:"revoke_reason,omitempty"`
	IP               string     `json:"ip,omitempty" bson:"ip,omitempty"`
	UserAgent        string     `json:"userAgent,omitempty" bson:"user_agent,omitempty"`
}

// expired reports whether now is past either of the session's expiry
// timestamps.
func (s *Session) expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt) || !now.Before(s.RefreshExpiresAt)
}

// live reports whether the session still counts against the device cap.
// Expired sessions never count, even before the sweep retires them.
func (s *Session) live(now time.Time) bool {
	return s.Active && !s.expired(now)
}

// Store persists sessions. Deactivate flips a session inactive and reports
// whether it was active before; it is a no-op on inactive sessions.
type Store interface {
	Insert(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	FindByAccessHash(ctx context.Context, hash string) (*Session, error)
	FindByRefreshHash(ctx context.Context, hash string) (*Session, error)
	ActiveForDevice(ctx context.Context, deviceID string) ([]Session, error)
	Deactivate(ctx context.Context, id string, at time.Time, reason string) (bool, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// DeviceChecker reports the trust state of a device.
type DeviceChecker interface {
	Status(ctx context.Context, deviceID string) (trusted, active bool, err error)
}

// TokenIssuer mints and verifies the bearer tokens sessions are keyed on.
type TokenIssuer interface {
	IssuePair(deviceID string) (auth.TokenPair, error)
	ParseAndValidate(token string, want auth.TokenType) (*auth.Claims, error)
}

// CreateParams carries already-minted tokens into Create.
type CreateParams struct {
	DeviceID         string
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	IP               string
	UserAgent        string
}

// Meta is client information recorded for audit.
type Meta struct {
	IP        string
	UserAgent string
}

// Issued is a freshly created session with its raw tokens. The tokens exist
// only here; the store keeps their hashes.
type Issued struct {
	Session *Session
	Tokens  auth.TokenPair
	Evicted []Session
}
