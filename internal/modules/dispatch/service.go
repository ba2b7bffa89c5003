// README: Dispatch service lists open requests near a driver and resolves claims.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridecore/internal/auth"
	"ridecore/internal/logging"
	"ridecore/internal/modules/availability"
	"ridecore/internal/modules/geo"
	"ridecore/internal/modules/ride"
	"ridecore/internal/observability"
	"ridecore/internal/types"
)

const (
	DefaultRadiusKm = 15.0
	releaseTimeout  = 5 * time.Second
)

var (
	ErrAlreadyClaimed       = ride.ErrAlreadyClaimed
	ErrNotFound             = ride.ErrNotFound
	ErrProfileNotConfigured = availability.ErrProfileNotConfigured
	ErrDriverUnavailable    = availability.ErrDriverUnavailable
	ErrSessionClosed        = errors.New("dispatch session closed")
)

// Rides is the slice of the ride service dispatch depends on.
type Rides interface {
	ListOpen(ctx context.Context) ([]ride.Ride, error)
	Claim(ctx context.Context, cmd ride.ClaimCommand) (*ride.Ride, error)
}

// Drivers is the slice of the availability tracker dispatch depends on.
type Drivers interface {
	Get(ctx context.Context, driverID types.ID) (*availability.Driver, error)
	Acquire(ctx context.Context, driverID types.ID) error
	Release(ctx context.Context, driverID types.ID) error
}

type Service struct {
	rides    Rides
	drivers  Drivers
	feed     Feed
	radiusKm float64
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[types.ID]*Session
}

// NewService wires dispatch. feed may be nil, in which case Watch is
// unavailable and callers poll Candidates.
func NewService(rides Rides, drivers Drivers, feed Feed, radiusKm float64, logger *zap.Logger) *Service {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	return &Service{
		rides:    rides,
		drivers:  drivers,
		feed:     feed,
		radiusKm: radiusKm,
		logger:   logging.OrNop(logger),
		sessions: make(map[types.ID]*Session),
	}
}

func (s *Service) RadiusKm() float64 { return s.radiusKm }

// ListOpenRequests returns every open request, newest first. With a driver
// location, only requests whose pickup lies within radiusKm (inclusive) are
// kept; radiusKm <= 0 means the default radius.
func (s *Service) ListOpenRequests(ctx context.Context, driverLocation *types.Point, radiusKm float64) ([]ride.Ride, error) {
	started := time.Now()
	defer func() { observability.OpenRequestsListDuration.Observe(time.Since(started).Seconds()) }()

	open, err := s.rides.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	if driverLocation == nil {
		return open, nil
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	out := open[:0]
	for _, r := range open {
		if geo.WithinRadius(*driverLocation, r.Pickup.Point, radiusKm) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ClaimRide assigns rideID to driverID. The driver must have a profile and be
// available; they are moved to busy first and moved back if the ride claim
// loses. No retries are attempted.
func (s *Service) ClaimRide(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	updated, err := s.claim(ctx, rideID, driverID)
	observability.ClaimsTotal.WithLabelValues(claimOutcome(err)).Inc()
	if err != nil {
		s.logger.Info("ride claim rejected",
			zap.String("ride_id", string(rideID)), zap.String("driver_id", string(driverID)), zap.Error(err))
		return nil, err
	}
	s.logger.Info("ride claimed", zap.String("ride_id", string(rideID)), zap.String("driver_id", string(driverID)))
	return updated, nil
}

func (s *Service) claim(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	d, err := s.drivers.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if d.Availability != availability.Available {
		return nil, ErrDriverUnavailable
	}
	if err := s.drivers.Acquire(ctx, driverID); err != nil {
		return nil, err
	}

	updated, err := s.rides.Claim(ctx, ride.ClaimCommand{
		RideID: rideID,
		Driver: auth.Identity{UserID: driverID, Role: auth.RoleDriver},
	})
	if err != nil {
		// The caller's context may already be gone; the driver must not stay busy.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		relErr := s.drivers.Release(relCtx, driverID)
		cancel()
		if relErr != nil {
			s.logger.Error("release driver after failed claim",
				zap.String("driver_id", string(driverID)), zap.Error(relErr))
		}
		if errors.Is(err, ride.ErrDriverBusy) {
			return nil, ErrDriverUnavailable
		}
		return nil, err
	}
	return updated, nil
}

func claimOutcome(err error) string {
	switch {
	case err == nil:
		return "claimed"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDriverUnavailable):
		return "driver_unavailable"
	case errors.Is(err, ErrProfileNotConfigured):
		return "no_profile"
	case errors.Is(err, ride.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}

// DeclineRide hides rideID from driverID's session. It never touches the
// store and is idempotent.
func (s *Service) DeclineRide(driverID, rideID types.ID) {
	s.OpenSession(driverID).Decline(rideID)
}

// OpenSession returns the driver's session, creating it on first use.
func (s *Service) OpenSession(driverID types.ID) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[driverID]; ok {
		return sess
	}
	sess := newSession(s, driverID)
	s.sessions[driverID] = sess
	observability.ActiveSessions.Inc()
	return sess
}

// CloseSession ends the driver's session, cancelling any watches and
// forgetting declines.
func (s *Service) CloseSession(driverID types.ID) {
	s.mu.Lock()
	sess, ok := s.sessions[driverID]
	delete(s.sessions, driverID)
	s.mu.Unlock()
	if ok {
		sess.close()
		observability.ActiveSessions.Dec()
	}
}

// Shutdown closes every session.
func (s *Service) Shutdown() {
	s.mu.Lock()
	ids := make([]types.ID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.CloseSession(id)
	}
}
