package keys

import (
	"crypto/hmac"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/shamir"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/crypto"
)

const maxShares = 255

// Share is one device's piece of a split key. Value carries the Shamir
// x-coordinate in its last byte, which is also Index.
type Share struct {
	KeyID     string `json:"keyId" cbor:"1,keyasint"`
	DeviceID  string `json:"deviceId" cbor:"2,keyasint"`
	Index     int    `json:"index" cbor:"3,keyasint"`
	Threshold int    `json:"threshold" cbor:"4,keyasint"`
	Total     int    `json:"total" cbor:"5,keyasint"`
	Value     []byte `json:"value" cbor:"6,keyasint"`
	KeyCheck  []byte `json:"keyCheck" cbor:"7,keyasint"`
	Version   uint64 `json:"version" cbor:"8,keyasint"`
}

type SplitResult struct {
	KeyID  string
	Key    []byte
	Shares []Share
}

func keyCheck(key []byte, id string) []byte {
	return crypto.MAC(key, []byte("key-check"), []byte(id))[:16]
}

// SplitKey generates a fresh random key and splits it so that any threshold
// of the len(deviceIDs) shares reconstruct it. Share i belongs to
// deviceIDs[i].
func (s *Service) SplitKey(deviceIDs []string, threshold int) (*SplitResult, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("%w: threshold must be at least 2, got %d", ErrInvalidThreshold, threshold)
	}
	if len(deviceIDs) < threshold {
		return nil, fmt.Errorf("%w: %d devices for threshold %d", ErrInsufficientDevices, len(deviceIDs), threshold)
	}
	if len(deviceIDs) > maxShares {
		return nil, fmt.Errorf("%w: at most %d devices", ErrInvalidThreshold, maxShares)
	}
	seen := make(map[string]struct{}, len(deviceIDs))
	for _, id := range deviceIDs {
		if id == "" {
			return nil, fmt.Errorf("%w: empty device id", ErrInsufficientDevices)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: device %s listed twice", ErrInsufficientDevices, id)
		}
		seen[id] = struct{}{}
	}

	key, err := crypto.RandomBytes(keySize)
	if err != nil {
		return nil, err
	}
	parts, err := shamir.Split(key, len(deviceIDs), threshold)
	if err != nil {
		crypto.Zero(key)
		return nil, fmt.Errorf("keys: split: %w", err)
	}

	id := "tk_" + uuid.NewString()
	check := keyCheck(key, id)
	version := s.Version()
	shares := make([]Share, len(parts))
	for i, p := range parts {
		shares[i] = Share{
			KeyID:     id,
			DeviceID:  deviceIDs[i],
			Index:     int(p[len(p)-1]),
			Threshold: threshold,
			Total:     len(parts),
			Value:     p,
			KeyCheck:  check,
			Version:   version,
		}
	}
	s.log.Info().Str("key_id", id).Int("threshold", threshold).Int("shares", len(parts)).Msg("key split")
	return &SplitResult{KeyID: id, Key: key, Shares: shares}, nil
}

// ReconstructKey combines at least threshold distinct shares of one key.
// The recorded threshold on the shares wins when it is higher than the one
// supplied, so a caller cannot talk the check down.
func (s *Service) ReconstructKey(shares []Share, threshold int) ([]byte, error) {
	if len(shares) > 0 && shares[0].Threshold > threshold {
		threshold = shares[0].Threshold
	}
	if threshold < 2 {
		return nil, fmt.Errorf("%w: threshold must be at least 2, got %d", ErrInvalidThreshold, threshold)
	}

	var (
		first  = Share{}
		parts  [][]byte
		usedIx = make(map[int]struct{})
	)
	for i, sh := range shares {
		if i == 0 {
			first = sh
		} else if sh.KeyID != first.KeyID || !hmac.Equal(sh.KeyCheck, first.KeyCheck) {
			return nil, ErrShareMismatch
		}
		if len(sh.Value) < 2 || int(sh.Value[len(sh.Value)-1]) != sh.Index {
			return nil, fmt.Errorf("%w: malformed share %d", ErrInvalidKeyFormat, sh.Index)
		}
		if _, dup := usedIx[sh.Index]; dup {
			continue
		}
		usedIx[sh.Index] = struct{}{}
		parts = append(parts, sh.Value)
	}
	if len(parts) < threshold {
		return nil, fmt.Errorf("%w: have %d distinct shares, need %d", ErrInsufficientShares, len(parts), threshold)
	}

	key, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShareMismatch, err)
	}
	if !hmac.Equal(keyCheck(key, first.KeyID), first.KeyCheck) {
		crypto.Zero(key)
		return nil, ErrShareMismatch
	}
	return key, nil
}
