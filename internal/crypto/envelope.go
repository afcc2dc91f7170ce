package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"slices"

	"golang.org/x/crypto/hkdf"
)

// Wrapped key layout: [format||salt||iv||ciphertext||tag].
const wrapFormat byte = 2

const (
	wrapSaltSize = 32
	wrapIVSize   = aes.BlockSize
	wrapTagSize  = sha256.Size
	wrapHeader   = 1 + wrapSaltSize + wrapIVSize
	wrapMinSize  = wrapHeader + wrapTagSize

	wrapInfo = "trust/escrow-wrap/v2"
)

var ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

// Binding names the record a wrapped key belongs to. All of it feeds the
// key schedule: a blob copied to another record, rolled back to another
// version or given a different holder list no longer unwraps.
type Binding struct {
	Record  string
	KeyID   string
	Version uint64
	Holders []string
}

// digest is a length-prefixed SHA-256 over the binding. Holder order does
// not matter.
func (b Binding) digest() []byte {
	h := sha256.New()
	field := func(s string) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	field(b.Record)
	field(b.KeyID)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], b.Version)
	h.Write(v[:])
	holders := slices.Clone(b.Holders)
	slices.Sort(holders)
	for _, d := range holders {
		field(d)
	}
	return h.Sum(nil)
}

// Wrap seals key under kek for b. AES-256-CTR carries the bytes and
// HMAC-SHA256 covers the whole header plus ciphertext; both subkeys come
// from HKDF over kek, a fresh salt and the binding digest.
func Wrap(kek, key []byte, b Binding) ([]byte, error) {
	if len(kek) == 0 {
		return nil, errors.New("crypto: empty key-encryption key")
	}
	out := make([]byte, wrapHeader, wrapHeader+len(key)+wrapTagSize)
	out[0] = wrapFormat
	if _, err := rand.Read(out[1:wrapHeader]); err != nil {
		return nil, err
	}
	salt, iv := out[1:1+wrapSaltSize], out[1+wrapSaltSize:wrapHeader]

	encKey, macKey, err := wrapKeys(kek, salt, b)
	if err != nil {
		return nil, err
	}
	defer Zero(encKey)
	defer Zero(macKey)

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	ct := make([]byte, len(key))
	cipher.NewCTR(block, iv).XORKeyStream(ct, key)
	out = append(out, ct...)
	return append(out, MAC(macKey, out)...), nil
}

// Unwrap reverses Wrap. The tag is checked before any decryption, and every
// mismatch (kek, binding, tampering, unknown format) is ErrDecryptionFailed.
func Unwrap(kek, wrapped []byte, b Binding) ([]byte, error) {
	if len(wrapped) < wrapMinSize {
		return nil, ErrCiphertextTooShort
	}
	if len(kek) == 0 || wrapped[0] != wrapFormat {
		return nil, ErrDecryptionFailed
	}
	tagAt := len(wrapped) - wrapTagSize
	salt, iv := wrapped[1:1+wrapSaltSize], wrapped[1+wrapSaltSize:wrapHeader]

	encKey, macKey, err := wrapKeys(kek, salt, b)
	if err != nil {
		return nil, err
	}
	defer Zero(encKey)
	defer Zero(macKey)

	if !hmac.Equal(MAC(macKey, wrapped[:tagAt]), wrapped[tagAt:]) {
		return nil, ErrDecryptionFailed
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	key := make([]byte, tagAt-wrapHeader)
	cipher.NewCTR(block, iv).XORKeyStream(key, wrapped[wrapHeader:tagAt])
	return key, nil
}

func wrapKeys(kek, salt []byte, b Binding) (encKey, macKey []byte, err error) {
	info := append([]byte(wrapInfo), b.digest()...)
	r := hkdf.New(sha256.New, kek, salt, info)
	keys := make([]byte, 64)
	if _, err = io.ReadFull(r, keys); err != nil {
		return nil, nil, err
	}
	return keys[:32], keys[32:], nil
}
