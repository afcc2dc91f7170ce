package crypto

import (
	"crypto/rand"
	"errors"

	xchacha "golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the symmetric key length used across the service.
const KeySize = xchacha.KeySize

var ErrDecryptionFailed = errors.New("crypto: decryption failed")

// SealX encrypts plaintext with XChaCha20-Poly1305 under key.
// Returned layout: [nonce||ciphertext||tag].
func SealX(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX, xchacha.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// OpenX reverses SealX. Any failure, including a malformed key, is reported
// as ErrDecryptionFailed and no plaintext is returned.
func OpenX(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(ciphertext) < xchacha.NonceSizeX+aead.Overhead() {
		return nil, ErrDecryptionFailed
	}
	nonce := ciphertext[:xchacha.NonceSizeX]
	pt, err := aead.Open(nil, nonce, ciphertext[xchacha.NonceSizeX:], aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}
