package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridecore/internal/modules/ride"
	"ridecore/internal/types"
)

var ErrNoFeed = errors.New("live ride feed not configured")

// Snapshot is one candidate listing as presented to a driver.
type Snapshot struct {
	Rides []ride.Ride `json:"rides"`
	// Degraded is set when the driver has no known location and the listing
	// is not proximity filtered.
	Degraded bool      `json:"degraded"`
	At       time.Time `json:"at"`
}

// Session is a driver's view of the dispatch board. Declines are held here
// only and never written to the ride store.
type Session struct {
	svc      *Service
	driverID types.ID

	mu       sync.Mutex
	declined map[types.ID]struct{}
	done     chan struct{}
	once     sync.Once
}

func newSession(svc *Service, driverID types.ID) *Session {
	return &Session{
		svc:      svc,
		driverID: driverID,
		declined: make(map[types.ID]struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Session) DriverID() types.ID { return s.driverID }

func (s *Session) Decline(rideID types.ID) {
	s.mu.Lock()
	s.declined[rideID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) Declined(rideID types.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.declined[rideID]
	return ok
}

// Candidates lists open requests near the driver's last reported location,
// minus anything declined in this session.
func (s *Session) Candidates(ctx context.Context) (Snapshot, error) {
	select {
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	default:
	}

	d, err := s.svc.drivers.Get(ctx, s.driverID)
	if err != nil {
		return Snapshot{}, err
	}
	open, err := s.svc.ListOpenRequests(ctx, d.Location, s.svc.radiusKm)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	visible := make([]ride.Ride, 0, len(open))
	for _, r := range open {
		if _, skip := s.declined[r.ID]; !skip {
			visible = append(visible, r)
		}
	}
	s.mu.Unlock()

	return Snapshot{Rides: visible, Degraded: d.Location == nil, At: time.Now().UTC()}, nil
}

// Watch streams a fresh snapshot now and after every ride change on the feed.
// Only the latest snapshot is kept when the reader falls behind. The channel
// closes when ctx is cancelled, the session closes or the feed ends.
func (s *Session) Watch(ctx context.Context) (<-chan Snapshot, error) {
	if s.svc.feed == nil {
		return nil, ErrNoFeed
	}
	first, err := s.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := s.svc.feed.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Snapshot, 1)
	out <- first

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case _, ok := <-sub.Events():
				if !ok {
					return
				}
				drain(sub.Events())
				snap, err := s.Candidates(ctx)
				if err != nil {
					if ctx.Err() == nil && !errors.Is(err, ErrSessionClosed) {
						s.svc.logger.Warn("refresh candidates",
							zap.String("driver_id", string(s.driverID)), zap.Error(err))
					}
					continue
				}
				offerLatest(out, snap)
			}
		}
	}()
	return out, nil
}

func (s *Session) close() {
	s.once.Do(func() { close(s.done) })
}

// drain discards queued changes; one re-read covers all of them.
func drain(ch <-chan Change) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func offerLatest(out chan Snapshot, snap Snapshot) {
	for {
		select {
		case out <- snap:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
