package ride

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridecore/internal/types"
)

// MemoryStore is an in-process Store. The mutex stands in for the row-level
// atomicity of a database conditional update; it enforces the same partial
// unique constraints as the SQL schema.
type MemoryStore struct {
	mu     sync.Mutex
	rides  map[types.ID]*Ride
	events []Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[types.ID]*Ride)}
}

func (m *MemoryStore) Create(_ context.Context, r *Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rides[r.ID]; exists {
		return ErrConflict
	}
	for _, other := range m.rides {
		if other.RiderID == r.RiderID && other.Status.Active() {
			return ErrActiveRide
		}
	}
	c := r.clone()
	c.UpdatedAt = c.CreatedAt
	m.rides[r.ID] = c
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (m *MemoryStore) Transition(_ context.Context, t Transition) (*Ride, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rides[t.RideID]
	if !ok || r.Status != t.From {
		return nil, false, nil
	}
	if t.Version != AnyVersion && r.StatusVersion != t.Version {
		return nil, false, nil
	}
	if t.RequireNoDriver && r.DriverID != nil {
		return nil, false, nil
	}
	if t.AssignDriver != nil && (t.To == StatusAccepted || t.To == StatusInProgress) {
		for id, other := range m.rides {
			if id != r.ID && other.AssignedTo(*t.AssignDriver) &&
				(other.Status == StatusAccepted || other.Status == StatusInProgress) {
				return nil, false, ErrDriverBusy
			}
		}
	}

	next := r.clone()
	next.Status = t.To
	next.StatusVersion++
	switch {
	case t.ClearDriver:
		next.DriverID = nil
	case t.AssignDriver != nil:
		d := *t.AssignDriver
		next.DriverID = &d
	}
	if t.FinalPrice != nil {
		p := *t.FinalPrice
		next.FinalPrice = &p
	}
	if t.ActualDurationMin != nil {
		n := *t.ActualDurationMin
		next.ActualDurationMin = &n
	}
	if t.CancelReason != nil {
		s := *t.CancelReason
		next.CancelReason = &s
	}
	at := t.At
	next.UpdatedAt = at
	switch t.To {
	case StatusAccepted:
		next.AcceptedAt = &at
	case StatusInProgress:
		next.StartedAt = &at
	case StatusCompleted:
		next.CompletedAt = &at
	case StatusCancelled:
		next.CancelledAt = &at
	}

	m.rides[r.ID] = next
	return next.clone(), true, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	e.ID = m.nextID
	m.events = append(m.events, *e)
	return nil
}

func (m *MemoryStore) Events(_ context.Context, rideID types.ID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events {
		if e.RideID == rideID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListOpen(_ context.Context) ([]Ride, error) {
	return m.filter(func(r *Ride) bool { return r.Open() }, true), nil
}

func (m *MemoryStore) ListRequestedBefore(_ context.Context, cutoff time.Time) ([]Ride, error) {
	return m.filter(func(r *Ride) bool { return r.Open() && r.CreatedAt.Before(cutoff) }, false), nil
}

func (m *MemoryStore) ActiveByRider(_ context.Context, riderID types.ID) (*Ride, error) {
	out := m.filter(func(r *Ride) bool { return r.RiderID == riderID && r.Status.Active() }, true)
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

func (m *MemoryStore) ActiveByDriver(_ context.Context, driverID types.ID) (*Ride, error) {
	out := m.filter(func(r *Ride) bool {
		return r.AssignedTo(driverID) && (r.Status == StatusAccepted || r.Status == StatusInProgress)
	}, true)
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

func (m *MemoryStore) filter(keep func(*Ride) bool, newestFirst bool) []Ride {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Ride
	for _, r := range m.rides {
		if keep(r) {
			out = append(out, *r.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
