package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/crypto"
)

const AlgPBKDF2SHA256 = "pbkdf2-sha256"

// DeviceKey is a key rederivable from a device's identity and a user secret.
type DeviceKey struct {
	KeyID      string `json:"keyId" cbor:"kid"`
	Version    uint64 `json:"version" cbor:"ver"`
	Key        []byte `json:"-" cbor:"-"`
	Salt       []byte `json:"salt" cbor:"salt"`
	Iterations int    `json:"iterations" cbor:"iter"`
	Algorithm  string `json:"algorithm" cbor:"alg"`
}

// UserKey is externally generated key material brought in by the user.
type UserKey struct {
	KeyID      string    `json:"keyId" cbor:"kid"`
	Version    uint64    `json:"version" cbor:"ver"`
	Key        []byte    `json:"-" cbor:"-"`
	ImportedAt time.Time `json:"importedAt" cbor:"at"`
}

// deviceSalt binds derivation to one device: the same secret on another
// device, or under another fingerprint, yields an unrelated key.
func deviceSalt(deviceID, fingerprint string) []byte {
	h := sha256.New()
	h.Write([]byte(deviceID))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return h.Sum(nil)
}

func keyID(prefix string, material ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(prefix))
	for _, m := range material {
		h.Write([]byte{0})
		h.Write(m)
	}
	return prefix + "_" + hex.EncodeToString(h.Sum(nil)[:8])
}

func (s *Service) DeriveDeviceKey(deviceID string, userSecret []byte, fingerprint string) (*DeviceKey, error) {
	if deviceID == "" || fingerprint == "" {
		return nil, fmt.Errorf("%w: device id and fingerprint are required", ErrEmptySecret)
	}
	if len(userSecret) == 0 {
		return nil, ErrEmptySecret
	}
	salt := deviceSalt(deviceID, fingerprint)
	key := crypto.PBKDF2(userSecret, salt, s.cfg.PBKDF2Iterations, keySize)
	return &DeviceKey{
		KeyID:      keyID("dk", salt),
		Version:    s.Version(),
		Key:        key,
		Salt:       salt,
		Iterations: s.cfg.PBKDF2Iterations,
		Algorithm:  AlgPBKDF2SHA256,
	}, nil
}

// ImportUserKey accepts a 256-bit key written as 64 hex characters.
func (s *Service) ImportUserKey(rawKeyHex string) (*UserKey, error) {
	raw := strings.TrimSpace(rawKeyHex)
	if len(raw) != hex.EncodedLen(keySize) {
		return nil, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidKeyFormat, hex.EncodedLen(keySize), len(raw))
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: expected hex encoding", ErrInvalidKeyFormat)
	}
	s.log.Debug().Msg("user key imported")
	return &UserKey{
		KeyID:      keyID("uk", key),
		Version:    s.Version(),
		Key:        key,
		ImportedAt: s.now().UTC(),
	}, nil
}
