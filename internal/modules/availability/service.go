// README: Availability service tracks driver online state and location.
package availability

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ridecore/internal/logging"
	"ridecore/internal/modules/geo"
	"ridecore/internal/types"
)

var (
	ErrProfileNotConfigured = errors.New("driver profile not configured; complete your driver profile")
	ErrDriverUnavailable    = errors.New("driver is not available; go online first")
	ErrBusyDriver           = errors.New("driver is on an active ride")
	ErrInvalidAvailability  = errors.New("invalid availability")
	ErrInvalidLocation      = errors.New("invalid location")
)

// GeoIndex mirrors available driver positions for proximity queries.
type GeoIndex interface {
	Add(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
}

type Service struct {
	store  Store
	index  GeoIndex
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the tracker. index may be nil.
func NewService(store Store, index GeoIndex, logger *zap.Logger) *Service {
	return &Service{store: store, index: index, logger: logging.OrNop(logger), now: time.Now}
}

// Register creates an offline profile for driverID. It is idempotent.
func (s *Service) Register(ctx context.Context, driverID types.ID) (*Driver, error) {
	if driverID == "" {
		return nil, ErrProfileNotConfigured
	}
	if err := s.store.Register(ctx, driverID, s.now()); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, driverID)
}

func (s *Service) Get(ctx context.Context, driverID types.ID) (*Driver, error) {
	return s.store.Get(ctx, driverID)
}

// SetAvailability moves a driver between offline and available. Busy is
// managed by Acquire and Release only, and a busy driver cannot go offline.
// Setting the current state again is a no-op.
func (s *Service) SetAvailability(ctx context.Context, driverID types.ID, target Availability) (*Driver, error) {
	if target != Offline && target != Available {
		return nil, ErrInvalidAvailability
	}

	for attempt := 0; attempt < 3; attempt++ {
		d, err := s.store.Get(ctx, driverID)
		if err != nil {
			return nil, err
		}
		if d.Availability == target {
			return d, nil
		}
		if d.Availability == Busy {
			return nil, ErrBusyDriver
		}

		ok, err := s.store.SetAvailability(ctx, driverID, []Availability{d.Availability}, target, s.now())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		d.Availability = target
		if target == Available && d.Location != nil {
			s.mirrorAdd(ctx, d.ID, *d.Location)
		} else if target == Offline {
			s.mirrorRemove(ctx, d.ID)
		}
		s.logger.Info("driver availability changed",
			zap.String("driver_id", string(driverID)), zap.String("availability", string(target)))
		return d, nil
	}
	return nil, ErrDriverUnavailable
}

// ReportLocation records the driver's latest position (last write wins).
func (s *Service) ReportLocation(ctx context.Context, driverID types.ID, p types.Point) (*Driver, error) {
	if !p.Valid() {
		return nil, ErrInvalidLocation
	}
	d, err := s.store.UpdateLocation(ctx, driverID, p, s.now())
	if err != nil {
		return nil, err
	}
	if d.Availability == Available {
		s.mirrorAdd(ctx, d.ID, p)
	}
	return d, nil
}

// Acquire marks an available driver busy with a conditional update. It fails
// with ErrDriverUnavailable if the driver is offline or already busy.
func (s *Service) Acquire(ctx context.Context, driverID types.ID) error {
	ok, err := s.store.SetAvailability(ctx, driverID, []Availability{Available}, Busy, s.now())
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.store.Get(ctx, driverID); err != nil {
			return err
		}
		return ErrDriverUnavailable
	}
	s.mirrorRemove(ctx, driverID)
	return nil
}

// Release returns a busy driver to available. Releasing a driver that is not
// busy is a no-op.
func (s *Service) Release(ctx context.Context, driverID types.ID) error {
	ok, err := s.store.SetAvailability(ctx, driverID, []Availability{Busy}, Available, s.now())
	if err != nil || !ok {
		return err
	}
	if d, err := s.store.Get(ctx, driverID); err == nil && d.Location != nil {
		s.mirrorAdd(ctx, driverID, *d.Location)
	}
	return nil
}

// Nearby lists available drivers within radiusKm of p, nearest first.
func (s *Service) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]Driver, error) {
	if !p.Valid() {
		return nil, ErrInvalidLocation
	}
	if s.index != nil {
		ids, err := s.index.Nearby(ctx, p, radiusKm)
		if err == nil {
			out := make([]Driver, 0, len(ids))
			for _, id := range ids {
				d, err := s.store.Get(ctx, id)
				if err != nil || d.Availability != Available {
					continue
				}
				out = append(out, *d)
			}
			return out, nil
		}
		s.logger.Warn("geo index query failed, scanning store", zap.Error(err))
	}

	all, err := s.store.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	var out []Driver
	for _, d := range all {
		if d.Location != nil && geo.WithinRadius(p, *d.Location, radiusKm) {
			out = append(out, d)
		}
	}
	geo.SortByDistance(out, func(d Driver) float64 { return geo.DistanceKm(p, *d.Location) })
	return out, nil
}

func (s *Service) mirrorAdd(ctx context.Context, id types.ID, p types.Point) {
	if s.index == nil {
		return
	}
	if err := s.index.Add(ctx, id, p); err != nil {
		s.logger.Warn("geo index add", zap.String("driver_id", string(id)), zap.Error(err))
	}
}

func (s *Service) mirrorRemove(ctx context.Context, id types.ID) {
	if s.index == nil {
		return
	}
	if err := s.index.Remove(ctx, id); err != nil {
		s.logger.Warn("geo index remove", zap.String("driver_id", string(id)), zap.Error(err))
	}
}
