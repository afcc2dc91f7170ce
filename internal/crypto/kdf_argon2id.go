package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/argon2"
)

const SaltSize = 32

type KDFParams struct {
	M    uint32 `cbor:"m" json:"m"`
	T    uint32 `cbor:"t" json:"t"`
	P    uint8  `cbor:"p" json:"p"`
	Salt []byte `cbor:"salt" json:"salt"`
}

// DefaultEscrowKDF returns argon2id parameters with a fresh random salt.
func DefaultEscrowKDF() (KDFParams, error) {
	return NewKDFParams(64*1024, 3, 2)
}

func NewKDFParams(m, t uint32, p uint8) (KDFParams, error) {
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return KDFParams{}, err
	}
	return KDFParams{M: m, T: t, P: p, Salt: salt}, nil
}

// DeriveKEK stretches a passphrase into a 32 byte key-encryption key.
func DeriveKEK(passphrase []byte, p KDFParams) (kek [32]byte) {
	key := argon2.IDKey(passphrase, p.Salt, p.T, p.M, p.P, 32)
	copy(kek[:], key)
	Zero(key)
	return
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
