package keys

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/crypto"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/storage"
)

const MethodPassphrase = "passphrase-argon2id"

// Escrow is a key sealed under a passphrase-derived key. It holds no secret
// in the clear and may be stored or handed to any of Devices.
type Escrow struct {
	ID         string           `json:"id" cbor:"1,keyasint"`
	KeyID      string           `json:"keyId,omitempty" cbor:"2,keyasint,omitempty"`
	Version    uint64           `json:"version" cbor:"3,keyasint"`
	Method     string           `json:"method" cbor:"4,keyasint"`
	KDF        crypto.KDFParams `json:"kdf" cbor:"5,keyasint"`
	Ciphertext []byte           `json:"ciphertext" cbor:"6,keyasint"`
	Devices    []string         `json:"devices" cbor:"7,keyasint"`
	CreatedAt  time.Time        `json:"createdAt" cbor:"8,keyasint"`
}

// binding ties the wrapped key to this escrow's identity and holder list.
func (e *Escrow) binding() crypto.Binding {
	return crypto.Binding{Record: e.ID, KeyID: e.KeyID, Version: e.Version, Holders: e.Devices}
}

// CreateEscrow derives a key-encryption key from passphrase under a fresh
// salt, seals key with it and records which devices may hold the blob. When
// a blob store is configured the escrow is persisted under its ID.
func (s *Service) CreateEscrow(ctx context.Context, key, passphrase []byte, escrowDevices []string, keyID string) (*Escrow, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKeyFormat)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase", ErrEmptySecret)
	}
	if len(escrowDevices) == 0 {
		return nil, fmt.Errorf("%w: at least one escrow device", ErrInsufficientDevices)
	}
	kdf, err := crypto.NewKDFParams(s.cfg.Argon2Memory, s.cfg.Argon2Time, s.cfg.Argon2Threads)
	if err != nil {
		return nil, err
	}
	e := &Escrow{
		ID:        "esc_" + uuid.NewString(),
		KeyID:     keyID,
		Version:   s.Version(),
		Method:    MethodPassphrase,
		KDF:       kdf,
		Devices:   slices.Clone(escrowDevices),
		CreatedAt: s.now().UTC(),
	}
	kek := crypto.DeriveKEK(passphrase, kdf)
	defer crypto.Zero(kek[:])
	e.Ciphertext, err = crypto.Wrap(kek[:], key, e.binding())
	if err != nil {
		return nil, err
	}

	if s.blobs != nil {
		blob, err := MarshalEscrow(e)
		if err != nil {
			return nil, err
		}
		if err := s.blobs.Put(ctx, e.ID, blob); err != nil {
			return nil, fmt.Errorf("keys: store escrow: %w", err)
		}
	}
	s.log.Info().Str("escrow_id", e.ID).Int("devices", len(e.Devices)).Msg("escrow created")
	return e, nil
}

// RecoverEscrow unwraps e with passphrase. A wrong passphrase, a tampered
// blob and an edited holder list are indistinguishable: all fail with
// ErrDecryptionFailed.
func (s *Service) RecoverEscrow(e *Escrow, passphrase []byte) ([]byte, error) {
	if e == nil {
		return nil, ErrEscrowNotFound
	}
	if e.Method != MethodPassphrase {
		return nil, fmt.Errorf("%w: unknown escrow method %q", ErrInvalidKeyFormat, e.Method)
	}
	kek := crypto.DeriveKEK(passphrase, e.KDF)
	defer crypto.Zero(kek[:])
	key, err := crypto.Unwrap(kek[:], e.Ciphertext, e.binding())
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return key, nil
}

// LoadEscrow fetches a persisted escrow for deviceID. Devices not listed on
// the escrow get ErrEscrowNotFound, same as a missing record.
func (s *Service) LoadEscrow(ctx context.Context, id, deviceID string) (*Escrow, error) {
	if s.blobs == nil {
		return nil, ErrEscrowNotFound
	}
	blob, err := s.blobs.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidID) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	e, err := UnmarshalEscrow(blob)
	if err != nil {
		s.log.Warn().Err(err).Str("escrow_id", id).Msg("corrupt escrow record")
		return nil, ErrEscrowNotFound
	}
	if !slices.Contains(e.Devices, deviceID) {
		return nil, ErrEscrowNotFound
	}
	return e, nil
}
