package keys

import (
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/crypto"
)

const agreementInfo = "trust/pairing/v1"

// KeyPair is a raw X25519 pair. Private never leaves the device that made it.
type KeyPair struct {
	Public  []byte `json:"publicKey"`
	Private []byte `json:"-"`
}

func GenerateKeyPair() (*KeyPair, error) {
	k, err := crypto.NewX25519()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: k.Pub.Bytes(), Private: k.Priv.Bytes()}, nil
}

// AgreeKey derives the shared symmetric key between priv and peerPub. Both
// sides must pass the same context string, usually the two device IDs in a
// fixed order.
func AgreeKey(priv, peerPub []byte, context string) ([]byte, error) {
	sk, err := crypto.ParseX25519Private(priv)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	pk, err := crypto.ParseX25519Public(peerPub)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	return crypto.AgreeKey(sk, pk, nil, []byte(agreementInfo+"|"+context))
}

// ValidatePublicKey reports whether raw is a usable X25519 public key.
func ValidatePublicKey(raw []byte) error {
	if _, err := crypto.ParseX25519Public(raw); err != nil {
		return ErrInvalidKeyFormat
	}
	return nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under a random nonce.
func Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKeyFormat
	}
	return crypto.SealX(key, plaintext, aad)
}

// Decrypt fails closed: any tag or length problem is ErrDecryptionFailed and
// no plaintext is returned.
func Decrypt(key, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKeyFormat
	}
	pt, err := crypto.OpenX(key, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}
