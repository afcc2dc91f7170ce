// Package pairing issues and redeems one-time pairing codes. A trusted
// device mints a code; a new device redeems it exactly once within the
// code's lifetime to bootstrap a trust edge with the issuer.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
)

var (
	ErrCodeNotFound = errors.New("pairing: code not found")
	ErrCodeExpired  = errors.New("pairing: code expired")
	// ErrCodeAlreadyRedeemed is never returned: a consumed code is
	// indistinguishable from one that never existed.
	ErrCodeAlreadyRedeemed = errors.New("pairing: code already redeemed")
	ErrInvalidTTL          = errors.New("pairing: invalid ttl")
	ErrInvalidFormat       = errors.New("pairing: invalid format")
	ErrSelfPairing         = errors.New("pairing: device cannot redeem its own code")
	ErrDuplicateCode       = errors.New("pairing: duplicate code")
)

type Format string

const (
	FormatUUID    Format = "uuid"
	FormatShort   Format = "short"
	FormatNumeric Format = "numeric"
)

// ParseFormat accepts the format names case-insensitively; "legacy" is an
// alias for numeric.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "uuid":
		return FormatUUID, nil
	case "short", "alphanumeric":
		return FormatShort, nil
	case "numeric", "legacy":
		return FormatNumeric, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

// Code is a live pairing code.
type Code struct {
	Code      string    `json:"code" bson:"_id"`
	DeviceID  string    `json:"deviceId" bson:"device_id"`
	Format    Format    `json:"format" bson:"format"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" bson:"expires_at"`
}

func (c Code) expired(now time.Time) bool { return !now.Before(c.ExpiresAt) }

// Store keeps live codes. Take must remove and return the entry in a single
// atomic step; it is the only thing standing between two concurrent
// redeemers.
type Store interface {
	Insert(ctx context.Context, c Code) error
	Get(ctx context.Context, code string) (Code, error)
	Take(ctx context.Context, code string) (Code, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	DefaultTTL    time.Duration `yaml:"default_ttl" toml:"default_ttl"`
	MaxTTL        time.Duration `yaml:"max_ttl" toml:"max_ttl"`
	DefaultFormat Format        `yaml:"default_format" toml:"default_format"`
	ReapInterval  time.Duration `yaml:"reap_interval" toml:"reap_interval"`
}

func (c *Config) setDefaults() {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 10 * time.Minute
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = time.Hour
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = FormatShort
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Minute
	}
}

// Issuer is the PairingCodeIssuer.
type Issuer struct {
	cfg   Config
	store Store
	log   zerolog.Logger
	now   func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type Option func(*Issuer)

func WithLogger(l zerolog.Logger) Option {
	return func(i *Issuer) { i.log = l.With().Str("component", "pairing").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(cfg Config, store Store, opts ...Option) *Issuer {
	cfg.setDefaults()
	i := &Issuer{
		cfg:   cfg,
		store: store,
		log:   zerolog.Nop(),
		now:   time.Now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

const maxGenerateAttempts = 5

// Issue mints a code for deviceID. ttlMinutes of zero yields a code that is
// already expired; a negative ttl or one above the configured maximum is
// rejected. An empty format selects the configured default.
func (i *Issuer) Issue(ctx context.Context, deviceID string, ttlMinutes int, format Format) (*Code, error) {
	if deviceID == "" {
		return nil, errors.New("pairing: empty device id")
	}
	ttl := time.Duration(ttlMinutes) * time.Minute
	if ttlMinutes < 0 || ttl > i.cfg.MaxTTL {
		return nil, fmt.Errorf("%w: %d minutes (max %d)", ErrInvalidTTL, ttlMinutes, int(i.cfg.MaxTTL/time.Minute))
	}
	if format == "" {
		format = i.cfg.DefaultFormat
	}

	now := i.now().UTC()
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		value, err := generate(format)
		if err != nil {
			return nil, err
		}
		c := Code{
			Code:      value,
			DeviceID:  deviceID,
			Format:    format,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		err = i.store.Insert(ctx, c)
		if errors.Is(err, ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		i.log.Info().
			Str("device_id", deviceID).
			Str("format", string(format)).
			Str("code", auth.Preview(value)).
			Time("expires_at", c.ExpiresAt).
			Msg("pairing code issued")
		return &c, nil
	}
	return nil, fmt.Errorf("pairing: no free code after %d attempts", maxGenerateAttempts)
}

// Redeem consumes code on behalf of requestingDeviceID and returns the code
// as issued. Exactly one concurrent caller can succeed for a given code.
// Expired codes are removed and reported as ErrCodeExpired; consumed or
// unknown ones as ErrCodeNotFound.
func (i *Issuer) Redeem(ctx context.Context, code, requestingDeviceID string) (*Code, error) {
	code = Normalize(code)
	if code == "" {
		return nil, ErrCodeNotFound
	}
	if requestingDeviceID == "" {
		return nil, errors.New("pairing: empty requesting device id")
	}

	peek, err := i.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if peek.DeviceID == requestingDeviceID && !peek.expired(i.now()) {
		return nil, ErrSelfPairing
	}

	c, err := i.store.Take(ctx, code)
	if err != nil {
		return nil, err
	}
	if c.expired(i.now()) {
		i.log.Info().Str("code", auth.Preview(code)).Msg("expired pairing code presented")
		return nil, ErrCodeExpired
	}
	i.log.Info().
		Str("issuer_device_id", c.DeviceID).
		Str("device_id", requestingDeviceID).
		Str("code", auth.Preview(code)).
		Msg("pairing code redeemed")
	return &c, nil
}

// Normalize canonicalizes user-typed input: UUIDs are lower-case, short
// codes upper-case, and separators typed by humans are dropped from
// non-UUID codes.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	if len(code) == 36 && strings.Count(code, "-") == 4 {
		return strings.ToLower(code)
	}
	code = strings.NewReplacer("-", "", " ", "").Replace(code)
	return strings.ToUpper(code)
}
