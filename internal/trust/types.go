package trust

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/fingerprint"
)

var (
	ErrUnknownDevice          = errors.New("trust: unknown device")
	ErrGrantorNotTrusted      = errors.New("trust: grantor not trusted")
	ErrSharerNotTrusted       = errors.New("trust: sharer not trusted")
	ErrTargetNotTrusted       = errors.New("trust: target not trusted")
	ErrInsufficientTrustLevel = errors.New("trust: insufficient trust level")
	ErrSelfTrust              = errors.New("trust: device cannot trust itself")
	ErrDeviceInactive         = errors.New("trust: device inactive")
	ErrPermissionDenied       = errors.New("trust: permission denied")
	ErrInvalidLevel           = errors.New("trust: invalid trust level")
	ErrInvalidPermission      = errors.New("trust: invalid permission")
	ErrInvalidExpiry          = errors.New("trust: expiry in the past")
	ErrDeviceExists           = errors.New("trust: device exists")
	ErrEdgeNotFound           = errors.New("trust: relationship not found")
	ErrPublicKeyConflict      = errors.New("trust: device already registered with a different public key")
)

// Level orders trust edges. The zero value means no trust.
type Level int

const (
	LevelNone Level = iota
	LevelPaired
	LevelVerified
	LevelTrusted
)

func (l Level) String() string {
	switch l {
	case LevelPaired:
		return "paired"
	case LevelVerified:
		return "verified"
	case LevelTrusted:
		return "trusted"
	default:
		return "none"
	}
}

func (l Level) valid() bool { return l >= LevelPaired && l <= LevelTrusted }

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paired", "1":
		return LevelPaired, nil
	case "verified", "2":
		return LevelVerified, nil
	case "trusted", "3", "":
		return LevelTrusted, nil
	}
	return LevelNone, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

type Status string

const (
	StatusUntrusted Status = "untrusted"
	StatusTrusted   Status = "trusted"
	StatusRevoked   Status = "revoked"
)

type Permission string

const (
	PermRead  Permission = "canRead"
	PermWrite Permission = "canWrite"
	PermShare Permission = "canShare"
)

func ParsePermission(s string) (Permission, error) {
	switch p := Permission(s); p {
	case PermRead, PermWrite, PermShare:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
}

// Permissions is the closed permission set. Everything defaults to false.
type Permissions struct {
	CanRead  bool `json:"canRead" bson:"can_read"`
	CanWrite bool `json:"canWrite" bson:"can_write"`
	CanShare bool `json:"canShare" bson:"can_share"`
}

func AllPermissions() Permissions {
	return Permissions{CanRead: true, CanWrite: true, CanShare: true}
}

func (p Permissions) Has(perm Permission) bool {
	switch perm {
	case PermRead:
		return p.CanRead
	case PermWrite:
		return p.CanWrite
	case PermShare:
		return p.CanShare
	}
	return false
}

// Covers reports whether every permission in q is also in p.
func (p Permissions) Covers(q Permissions) bool {
	return (p.CanRead || !q.CanRead) && (p.CanWrite || !q.CanWrite) && (p.CanShare || !q.CanShare)
}

type Device struct {
	ID          string                 `json:"deviceId" bson:"_id"`
	UserID      string                 `json:"userId" bson:"user_id"`
	Type        string                 `json:"deviceType" bson:"device_type"`
	Version     string                 `json:"deviceVersion" bson:"device_version"`
	Components  fingerprint.Components `json:"components" bson:"components"`
	Fingerprint string                 `json:"-" bson:"fingerprint"`
	PublicKey   []byte                 `json:"publicKey,omitempty" bson:"public_key,omitempty"`

	Trusted     bool        `json:"trusted" bson:"trusted"`
	Status      Status      `json:"status" bson:"status"`
	Root        bool        `json:"root,omitempty" bson:"root"`
	TrustedBy   string      `json:"trustedBy,omitempty" bson:"trusted_by,omitempty"`
	Permissions Permissions `json:"permissions" bson:"permissions"`
	Active      bool        `json:"active" bson:"active"`

	CreatedAt  time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" bson:"updated_at"`
	LastSeenAt time.Time  `json:"lastSeenAt" bson:"last_seen_at"`
	TrustedAt  *time.Time `json:"trustedAt,omitempty" bson:"trusted_at,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty" bson:"revoked_at,omitempty"`
	RevokedBy  string     `json:"revokedBy,omitempty" bson:"revoked_by,omitempty"`
}

func (d *Device) clone() *Device {
	c := *d
	c.PublicKey = append([]byte(nil), d.PublicKey...)
	if d.TrustedAt != nil {
		t := *d.TrustedAt
		c.TrustedAt = &t
	}
	if d.RevokedAt != nil {
		t := *d.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

func (d *Device) trusted() bool { return d.Active && d.Trusted }

// Relationship is a directed trust edge from Source to Target.
type Relationship struct {
	ID        string    `json:"id" bson:"_id"`
	Source    string    `json:"sourceDeviceId" bson:"source"`
	Target    string    `json:"targetDeviceId" bson:"target"`
	Level     Level     `json:"level" bson:"level"`
	Payload   []byte    `json:"payload,omitempty" bson:"payload,omitempty"`
	Active    bool      `json:"active" bson:"active"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

func edgeID(source, target string) string { return source + ">" + target }

// Grant lets Target use ResourceID with Permissions, on behalf of From.
type Grant struct {
	ID          string      `json:"id" bson:"_id"`
	ResourceID  string      `json:"resourceId" bson:"resource_id"`
	From        string      `json:"fromDeviceId" bson:"from"`
	Target      string      `json:"targetDeviceId" bson:"target"`
	Permissions Permissions `json:"permissions" bson:"permissions"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty" bson:"expires_at,omitempty"`
	CreatedAt   time.Time   `json:"createdAt" bson:"created_at"`
}

func (g Grant) live(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}
