// Package fingerprint derives a stable device identifier from coarsened client
// characteristics. Raw attributes are bucketed before hashing so a fingerprint
// cannot be reversed into precise hardware telemetry.
package fingerprint

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const schemeVersion = "v1"

// DeviceInfo is what a client reports about itself at registration.
type DeviceInfo struct {
	DeviceType     string  `json:"deviceType"`
	DeviceVersion  string  `json:"deviceVersion"`
	Platform       string  `json:"platform"`
	CPUCores       int     `json:"cpuCores"`
	MemoryGB       float64 `json:"memoryGB"`
	ScreenWidth    int     `json:"screenWidth"`
	ScreenHeight   int     `json:"screenHeight"`
	UserAgent      string  `json:"userAgent"`
	Timezone       string  `json:"timezone"`
	TimezoneOffset int     `json:"timezoneOffset"` // minutes east of UTC
	Language       string  `json:"language"`
}

// Components is the coarsened tuple that actually feeds the hash. It is safe
// to store and display.
type Components struct {
	DeviceType string   `json:"deviceType" bson:"device_type"`
	Platform   Platform `json:"platform" bson:"platform"`
	CPUCores   int      `json:"cpuCores" bson:"cpu_cores"`
	MemoryGB   int      `json:"memoryGB" bson:"memory_gb"`
	Screen     string   `json:"screen" bson:"screen"`
	Browser    string   `json:"browser" bson:"browser"`
	UTCOffset  string   `json:"utcOffset" bson:"utc_offset"`
	Language   string   `json:"language" bson:"language"`
}

type Result struct {
	Fingerprint string     `json:"fingerprint"`
	Components  Components `json:"components"`
}

// Registry resolves the fingerprint recorded for a device ID.
type Registry interface {
	Fingerprint(ctx context.Context, deviceID string) (string, error)
}

type Service struct {
	salt     []byte
	registry Registry
	log      zerolog.Logger
}

type Option func(*Service)

func WithRegistry(r Registry) Option { return func(s *Service) { s.registry = r } }

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "fingerprint").Logger() }
}

func New(salt []byte, opts ...Option) (*Service, error) {
	if len(salt) == 0 {
		return nil, errors.New("fingerprint: salt required")
	}
	s := &Service{salt: append([]byte(nil), salt...), log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// SetRegistry wires the device lookup after construction, for callers whose
// registry itself depends on this service.
func (s *Service) SetRegistry(r Registry) { s.registry = r }

func Coarsen(info DeviceInfo) Components {
	return Components{
		DeviceType: normalizeType(info.DeviceType),
		Platform:   bucketPlatform(info.Platform, info.UserAgent),
		CPUCores:   roundCores(info.CPUCores),
		MemoryGB:   roundMemory(info.MemoryGB),
		Screen:     bucketScreen(info.ScreenWidth, info.ScreenHeight),
		Browser:    reduceUserAgent(info.UserAgent),
		UTCOffset:  reduceTimezone(info.Timezone, info.TimezoneOffset),
		Language:   reduceLanguage(info.Language),
	}
}

func (c Components) canonical() string {
	return strings.Join([]string{
		schemeVersion,
		"type=" + c.DeviceType,
		"platform=" + string(c.Platform),
		fmt.Sprintf("cores=%d", c.CPUCores),
		fmt.Sprintf("memory=%d", c.MemoryGB),
		"screen=" + c.Screen,
		"browser=" + c.Browser,
		"tz=" + c.UTCOffset,
		"lang=" + c.Language,
	}, "|")
}

// Generate coarsens info and hashes the result. Identical coarsened input
// always yields the identical fingerprint.
func (s *Service) Generate(info DeviceInfo) Result {
	c := Coarsen(info)
	mac := hmac.New(sha256.New, s.salt)
	mac.Write([]byte(c.canonical()))
	return Result{Fingerprint: hex.EncodeToString(mac.Sum(nil)), Components: c}
}

// DeviceID derives the opaque device identifier for a user's device.
// Re-registering the same device for the same user yields the same ID.
func (s *Service) DeviceID(userID, fingerprint string) string {
	mac := hmac.New(sha256.New, s.salt)
	mac.Write([]byte("device-id"))
	mac.Write([]byte{0})
	mac.Write([]byte(userID))
	mac.Write([]byte{0})
	mac.Write([]byte(fingerprint))
	return "dev_" + hex.EncodeToString(mac.Sum(nil)[:16])
}

// Verify recomputes the fingerprint for info and compares it with the claimed
// one and, when a registry is wired, with the one on record for deviceID.
// It never fails loudly: every error is a plain mismatch.
func (s *Service) Verify(ctx context.Context, deviceID, fingerprint string, info DeviceInfo) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn().Interface("panic", r).Msg("fingerprint verification panicked")
			ok = false
		}
	}()
	if deviceID == "" || fingerprint == "" {
		return false
	}
	got := s.Generate(info).Fingerprint
	if !hmac.Equal([]byte(got), []byte(fingerprint)) {
		return false
	}
	if s.registry == nil {
		return true
	}
	stored, err := s.registry.Fingerprint(ctx, deviceID)
	if err != nil {
		s.log.Debug().Err(err).Str("device_id", deviceID).Msg("fingerprint lookup failed")
		return false
	}
	return hmac.Equal([]byte(stored), []byte(got))
}
