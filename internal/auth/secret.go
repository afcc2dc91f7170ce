package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ArgonParams tunes the hash of operator secrets such as the admin token.
type ArgonParams struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

var DefaultArgon = ArgonParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

// A configured hash is trusted input, but it is checked on every admin
// request, so its cost is capped.
const (
	maxSecretMemory = 1 << 20 // 1 GiB in KiB
	maxSecretTime   = 16
	minSecretSalt   = 8
	minSecretKey    = 16
)

var ErrInvalidHash = errors.New("auth: invalid secret hash")

// SecretHash is a parsed PHC-style argon2id hash:
// $argon2id$v=19$m=<M>,t=<T>,p=<P>$<b64 salt>$<b64 key>.
type SecretHash struct {
	params ArgonParams
	salt   []byte
	key    []byte
}

// HashSecret hashes secret under a fresh salt and encodes the result.
func HashSecret(p ArgonParams, secret string) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	h := &SecretHash{params: p, salt: salt}
	h.key = h.derive(secret)
	return h.String(), nil
}

// ParseSecretHash decodes encoded and rejects hashes that are malformed or
// would cost more than the caps to check.
func ParseSecretHash(encoded string) (*SecretHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, ErrInvalidHash
	}
	var v int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &v); err != nil || v != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version", ErrInvalidHash)
	}
	var p ArgonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return nil, ErrInvalidHash
	}
	if p.Memory == 0 || p.Memory > maxSecretMemory || p.Time == 0 || p.Time > maxSecretTime || p.Parallelism == 0 {
		return nil, fmt.Errorf("%w: cost parameters out of range", ErrInvalidHash)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < minSecretSalt {
		return nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < minSecretKey {
		return nil, ErrInvalidHash
	}
	p.SaltLen, p.KeyLen = len(salt), uint32(len(key))
	return &SecretHash{params: p, salt: salt, key: key}, nil
}

func (h *SecretHash) derive(secret string) []byte {
	p := h.params
	return argon2.IDKey([]byte(secret), h.salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
}

// Verify reports whether secret matches, in constant time.
func (h *SecretHash) Verify(secret string) bool {
	return subtle.ConstantTimeCompare(h.derive(secret), h.key) == 1
}

func (h *SecretHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key),
	)
}

// VerifySecret parses encoded and checks secret against it.
func VerifySecret(secret, encoded string) (bool, error) {
	h, err := ParseSecretHash(encoded)
	if err != nil {
		return false, err
	}
	return h.Verify(secret), nil
}
