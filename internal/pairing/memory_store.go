package pairing

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]Code
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]Code)}
}

func (m *MemoryStore) Insert(_ context.Context, c Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.codes[c.Code]; exists {
		return ErrDuplicateCode
	}
	m.codes[c.Code] = c
	return nil
}

func (m *MemoryStore) Get(_ context.Context, code string) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return Code{}, ErrCodeNotFound
	}
	return c, nil
}

func (m *MemoryStore) Take(_ context.Context, code string) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return Code{}, ErrCodeNotFound
	}
	delete(m.codes, code)
	return c, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, c := range m.codes {
		if c.expired(now) {
			delete(m.codes, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of live entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes)
}
