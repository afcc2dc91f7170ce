// Package keys implements masterless key management: nothing here holds a
// global secret. Keys are either rederived from material the calling device
// already knows, split across devices with Shamir's scheme, or escrowed under
// a passphrase the user controls.
package keys

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/crypto"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/storage"
)

var (
	ErrInsufficientShares  = errors.New("keys: insufficient shares")
	ErrInsufficientDevices = errors.New("keys: insufficient devices")
	ErrInvalidThreshold    = errors.New("keys: invalid threshold")
	ErrInvalidKeyFormat    = errors.New("keys: invalid key format")
	ErrShareMismatch       = errors.New("keys: shares do not belong to the same key")
	ErrEscrowNotFound      = errors.New("keys: escrow not found")
	ErrEmptySecret         = errors.New("keys: secret must not be empty")

	// ErrDecryptionFailed is the crypto package's sentinel so callers can
	// match it without importing both.
	ErrDecryptionFailed = crypto.ErrDecryptionFailed
)

const keySize = crypto.KeySize

type Config struct {
	PBKDF2Iterations int           `yaml:"pbkdf2_iterations" toml:"pbkdf2_iterations"`
	RotationInterval time.Duration `yaml:"rotation_interval" toml:"rotation_interval"`
	Argon2Memory     uint32        `yaml:"argon2_memory_kib" toml:"argon2_memory_kib"`
	Argon2Time       uint32        `yaml:"argon2_time" toml:"argon2_time"`
	Argon2Threads    uint8         `yaml:"argon2_threads" toml:"argon2_threads"`
}

func (c *Config) setDefaults() {
	if c.PBKDF2Iterations <= 0 {
		c.PBKDF2Iterations = 310000
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = 30 * 24 * time.Hour
	}
	if c.Argon2Memory == 0 {
		c.Argon2Memory = 64 * 1024
	}
	if c.Argon2Time == 0 {
		c.Argon2Time = 3
	}
	if c.Argon2Threads == 0 {
		c.Argon2Threads = 2
	}
}

// Service is the KeyDerivationService.
type Service struct {
	cfg   Config
	blobs storage.BlobStore
	log   zerolog.Logger
	now   func() time.Time

	rotMu        sync.Mutex
	version      uint64
	lastRotation time.Time
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "keys").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds the service. blobs holds escrow records; it may be nil when
// escrow persistence is not needed.
func New(cfg Config, blobs storage.BlobStore, opts ...Option) *Service {
	cfg.setDefaults()
	s := &Service{
		cfg:     cfg,
		blobs:   blobs,
		log:     zerolog.Nop(),
		now:     time.Now,
		version: 1,
	}
	for _, o := range opts {
		o(s)
	}
	if s.lastRotation.IsZero() {
		s.lastRotation = s.now()
	}
	return s
}

// Version is the current key version stamped on new key material.
func (s *Service) Version() uint64 {
	s.rotMu.Lock()
	defer s.rotMu.Unlock()
	return s.version
}
