// Package storage holds the persistence plumbing shared by the domain stores:
// opaque blob storage for escrowed key material and the Mongo connection
// helpers used by the trust, pairing and session stores.
package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrNotFound  = errors.New("storage: blob not found")
	ErrInvalidID = errors.New("storage: invalid blob id")
)

type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// validID rejects ids that could escape a directory or collide with the
// file store's naming.
func validID(id string) error {
	if id == "" || len(id) > 128 || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return ErrInvalidID
	}
	return nil
}

type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(_ context.Context, id string, data []byte) error {
	if err := validID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBlobStore) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id)
	return nil
}
