package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byAccess  map[string]string
	byRefresh map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*Session),
		byAccess:  make(map[string]string),
		byRefresh: make(map[string]string),
	}
}

func (m *MemoryStore) Insert(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return errors.New("session: duplicate id")
	}
	if _, ok := m.byAccess[s.AccessHash]; ok {
		return errors.New("session: duplicate access token")
	}
	if _, ok := m.byRefresh[s.RefreshHash]; ok {
		return errors.New("session: duplicate refresh token")
	}
	c := *s
	m.sessions[s.ID] = &c
	m.byAccess[s.AccessHash] = s.ID
	m.byRefresh[s.RefreshHash] = s.ID
	return nil
}

func (m *MemoryStore) lookup(id string, ok bool) (*Session, error) {
	if !ok {
		return nil, ErrSessionNotFound
	}
	s, found := m.sessions[id]
	if !found {
		return nil, ErrSessionNotFound
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(id, true)
}

func (m *MemoryStore) FindByAccessHash(_ context.Context, hash string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byAccess[hash]
	return m.lookup(id, ok)
}

func (m *MemoryStore) FindByRefreshHash(_ context.Context, hash string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRefresh[hash]
	return m.lookup(id, ok)
}

func (m *MemoryStore) ActiveForDevice(_ context.Context, deviceID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.DeviceID == deviceID && s.Active {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MemoryStore) Deactivate(_ context.Context, id string, at time.Time, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	if !s.Active {
		return false, nil
	}
	s.Active = false
	s.RevokedAt = &at
	s.RevokeReason = reason
	return true, nil
}

func (m *MemoryStore) DeactivateExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.Active && s.expired(now) {
			at := now
			s.Active = false
			s.RevokedAt = &at
			s.RevokeReason = ReasonExpired
			n++
		}
	}
	return n, nil
}

// Count reports the number of stored sessions, active or not.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
