package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

type DHKey struct {
	Priv *ecdh.PrivateKey
	Pub  *ecdh.PublicKey
}

func NewX25519() (*DHKey, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &DHKey{Priv: priv, Pub: priv.PublicKey()}, nil
}

// ParseX25519Public accepts a raw 32 byte X25519 public key.
func ParseX25519Public(raw []byte) (*ecdh.PublicKey, error) {
	return ecdh.X25519().NewPublicKey(raw)
}

func ParseX25519Private(raw []byte) (*ecdh.PrivateKey, error) {
	return ecdh.X25519().NewPrivateKey(raw)
}

// AgreeKey runs X25519 against peer and expands the shared secret with
// HKDF-SHA256 under info. Both sides must pass the same info.
func AgreeKey(priv *ecdh.PrivateKey, peer *ecdh.PublicKey, salt, info []byte) ([]byte, error) {
	if priv == nil || peer == nil {
		return nil, errors.New("crypto: missing key")
	}
	shared, err := priv.ECDH(peer)
	if err != nil {
		return nil, err
	}
	defer Zero(shared)
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}
