package trust

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists devices, trust edges and sharing grants. Devices are never
// deleted.
type Store interface {
	CreateDevice(ctx context.Context, d *Device) error
	GetDevice(ctx context.Context, id string) (*Device, error)
	SaveDevice(ctx context.Context, d *Device) error

	PutEdge(ctx context.Context, e *Relationship) error
	GetEdge(ctx context.Context, source, target string) (*Relationship, error)
	InboundEdges(ctx context.Context, target string) ([]Relationship, error)
	DeactivateInbound(ctx context.Context, target string, at time.Time) (int, error)

	PutGrant(ctx context.Context, g *Grant) error
	Grants(ctx context.Context, resourceID, deviceID string) ([]Grant, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*Device
	edges   map[string]Relationship
	grants  map[string]Grant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]*Device),
		edges:   make(map[string]Relationship),
		grants:  make(map[string]Grant),
	}
}

func (m *MemoryStore) CreateDevice(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; ok {
		return ErrDeviceExists
	}
	m.devices[d.ID] = d.clone()
	return nil
}

func (m *MemoryStore) GetDevice(_ context.Context, id string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrUnknownDevice
	}
	return d.clone(), nil
}

func (m *MemoryStore) SaveDevice(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; !ok {
		return ErrUnknownDevice
	}
	m.devices[d.ID] = d.clone()
	return nil
}

func (m *MemoryStore) PutEdge(_ context.Context, e *Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	m.edges[e.ID] = c
	return nil
}

func (m *MemoryStore) GetEdge(_ context.Context, source, target string) (*Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[edgeID(source, target)]
	if !ok {
		return nil, ErrEdgeNotFound
	}
	return &e, nil
}

func (m *MemoryStore) InboundEdges(_ context.Context, target string) ([]Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Relationship
	for _, e := range m.edges {
		if e.Target == target {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeactivateInbound(_ context.Context, target string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.edges {
		if e.Target == target && e.Active {
			e.Active = false
			e.UpdatedAt = at
			m.edges[id] = e
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) PutGrant(_ context.Context, g *Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[g.ID] = *g
	return nil
}

func (m *MemoryStore) Grants(_ context.Context, resourceID, deviceID string) ([]Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Grant
	for _, g := range m.grants {
		if g.ResourceID == resourceID && g.Target == deviceID {
			out = append(out, g)
		}
	}
	return out, nil
}
