package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridecore/internal/types"
)

// MemoryStore is an in-process Store; the mutex emulates row atomicity.
type MemoryStore struct {
	mu      sync.Mutex
	drivers map[types.ID]*Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[types.ID]*Driver)}
}

func (m *MemoryStore) Register(_ context.Context, id types.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[id]; !ok {
		m.drivers[id] = &Driver{ID: id, Availability: Offline, UpdatedAt: at}
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrProfileNotConfigured
	}
	return d.clone(), nil
}

func (m *MemoryStore) SetAvailability(_ context.Context, id types.ID, from []Availability, to Availability, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if d.Availability == f {
			d.Availability = to
			d.UpdatedAt = at
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) UpdateLocation(_ context.Context, id types.ID, p types.Point, at time.Time) (*Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrProfileNotConfigured
	}
	d.Location = &p
	d.LocationUpdatedAt = &at
	d.UpdatedAt = at
	return d.clone(), nil
}

func (m *MemoryStore) ListAvailable(_ context.Context) ([]Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Driver
	for _, d := range m.drivers {
		if d.Availability == Available {
			out = append(out, *d.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
