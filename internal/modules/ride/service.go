// README: Ride service implements lifecycle transitions and persistence.
package ride

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridecore/internal/auth"
	"ridecore/internal/logging"
	"ridecore/internal/modules/routing"
	"ridecore/internal/observability"
	"ridecore/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("ride not found")
	ErrConflict          = errors.New("ride state conflict")
	ErrActiveRide        = errors.New("rider has an active ride")
	ErrBadRequest        = errors.New("bad request")
	ErrForbidden         = errors.New("not allowed for this caller")
	ErrAlreadyClaimed    = errors.New("ride already claimed")
	ErrDriverBusy        = errors.New("driver already has an active ride")
)

// releaseTimeout bounds returning a driver to available after a ride ends.
const releaseTimeout = 5 * time.Second

type Estimator interface {
	EstimateRoute(ctx context.Context, pickup, destination types.Point, class types.VehicleClass) (routing.RouteEstimate, error)
}

// DriverReleaser returns a driver to available once their ride ends.
type DriverReleaser interface {
	Release(ctx context.Context, driverID types.ID) error
}

// ChangeNotifier wakes live subscribers after a ride row changed.
type ChangeNotifier interface {
	NotifyRideChange(ctx context.Context, rideID types.ID, status Status) error
}

type EventPublisher interface {
	PublishRideEvent(ctx context.Context, e Event) error
}

type Service struct {
	store     Store
	estimator Estimator
	drivers   DriverReleaser
	notifier  ChangeNotifier
	publisher EventPublisher
	logger    *zap.Logger
	validate  *validator.Validate
	now       func() time.Time
}

type Option func(*Service)

func WithDriverReleaser(d DriverReleaser) Option { return func(s *Service) { s.drivers = d } }
func WithNotifier(n ChangeNotifier) Option        { return func(s *Service) { s.notifier = n } }
func WithEventPublisher(p EventPublisher) Option  { return func(s *Service) { s.publisher = p } }
func WithLogger(l *zap.Logger) Option             { return func(s *Service) { s.logger = logging.OrNop(l) } }
func WithClock(now func() time.Time) Option       { return func(s *Service) { s.now = now } }

func NewService(store Store, estimator Estimator, opts ...Option) *Service {
	s := &Service{
		store:     store,
		estimator: estimator,
		logger:    zap.NewNop(),
		validate:  validator.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateCommand struct {
	Rider        auth.Identity      `validate:"-"`
	Pickup       Place
	Destination  Place
	VehicleClass types.VehicleClass `validate:"required,oneof=standard family luxury"`
	RiderComment string             `validate:"max=500"`
}

type ClaimCommand struct {
	RideID types.ID
	Driver auth.Identity
}

type StartCommand struct {
	RideID types.ID
	Actor  auth.Identity
}

type CompleteCommand struct {
	RideID types.ID
	Actor  auth.Identity
	// FinalPrice overrides the estimate when set.
	FinalPrice *types.Money
}

type CancelCommand struct {
	RideID types.ID
	Actor  auth.Identity
	Reason string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	if cmd.Rider.UserID == "" || !cmd.Rider.Is(auth.RoleRider) {
		return nil, ErrForbidden
	}
	if err := s.validateCreate(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if _, err := s.store.ActiveByRider(ctx, cmd.Rider.UserID); err == nil {
		return nil, ErrActiveRide
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	est, err := s.estimator.EstimateRoute(ctx, cmd.Pickup.Point, cmd.Destination.Point, cmd.VehicleClass)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &Ride{
		ID:                   types.ID(uuid.NewString()),
		RiderID:              cmd.Rider.UserID,
		Pickup:               cmd.Pickup,
		Destination:          cmd.Destination,
		VehicleClass:         cmd.VehicleClass,
		Status:               StatusRequested,
		EstimatedDistanceKm:  est.DistanceKm,
		EstimatedDurationMin: est.DurationMin,
		EstimatedPrice:       est.Price,
		RiderComment:         cmd.RiderComment,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.record(ctx, StatusNone, r, cmd.Rider)
	s.logger.Info("ride requested",
		zap.String("ride_id", string(r.ID)),
		zap.String("rider_id", string(r.RiderID)),
		zap.String("vehicle_class", string(r.VehicleClass)),
		zap.Int64("estimated_price", r.EstimatedPrice.Amount))
	return r, nil
}

func (s *Service) validateCreate(cmd CreateCommand) error {
	if err := s.validate.Struct(cmd); err != nil {
		return err
	}
	if !cmd.Pickup.Point.Valid() || !cmd.Destination.Point.Valid() {
		return errors.New("coordinates out of range")
	}
	return nil
}

// Claim assigns the ride to the calling driver with a single conditional
// update on (status = requested, driver_id IS NULL). Exactly one of any set of
// concurrent claims succeeds.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*Ride, error) {
	if cmd.Driver.UserID == "" || !cmd.Driver.Is(auth.RoleDriver) {
		return nil, ErrForbidden
	}
	to, err := Next(StatusRequested, TriggerClaim)
	if err != nil {
		return nil, err
	}
	driverID := cmd.Driver.UserID
	updated, ok, err := s.store.Transition(ctx, Transition{
		RideID:          cmd.RideID,
		From:            StatusRequested,
		To:              to,
		Version:         AnyVersion,
		RequireNoDriver: true,
		AssignDriver:    &driverID,
		At:              s.now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// Claimed by someone else or cancelled by the rider: both lose the race.
		if _, err := s.store.Get(ctx, cmd.RideID); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyClaimed
	}
	s.record(ctx, StatusRequested, updated, cmd.Driver)
	return updated, nil
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	to, err := Next(r.Status, TriggerStart)
	if err != nil {
		return nil, err
	}
	if !r.AssignedTo(cmd.Actor.UserID) {
		return nil, ErrForbidden
	}
	return s.apply(ctx, r, Transition{To: to, Version: r.StatusVersion}, cmd.Actor)
}

func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	to, err := Next(r.Status, TriggerComplete)
	if err != nil {
		return nil, err
	}
	if !r.AssignedTo(cmd.Actor.UserID) {
		return nil, ErrForbidden
	}

	final := r.EstimatedPrice
	if cmd.FinalPrice != nil {
		if cmd.FinalPrice.Amount < 0 {
			return nil, fmt.Errorf("%w: negative final price", ErrBadRequest)
		}
		final = *cmd.FinalPrice
		if final.Currency == "" {
			final.Currency = r.EstimatedPrice.Currency
		}
	}
	duration := 0
	if r.StartedAt != nil {
		duration = int(math.Round(s.now().Sub(*r.StartedAt).Minutes()))
	}

	updated, err := s.apply(ctx, r, Transition{
		To:                to,
		Version:           r.StatusVersion,
		FinalPrice:        &final,
		ActualDurationMin: &duration,
	}, cmd.Actor)
	if err != nil {
		return nil, err
	}
	s.releaseDriver(ctx, *r.DriverID)
	return updated, nil
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	to, err := Next(r.Status, TriggerCancel)
	if err != nil {
		return nil, err
	}
	if !canCancel(r, cmd.Actor) {
		return nil, ErrForbidden
	}

	t := Transition{To: to, Version: r.StatusVersion, ClearDriver: r.DriverID != nil}
	if cmd.Reason != "" {
		reason := cmd.Reason
		t.CancelReason = &reason
	}
	updated, err := s.apply(ctx, r, t, cmd.Actor)
	if err != nil {
		return nil, err
	}
	if r.DriverID != nil {
		s.releaseDriver(ctx, *r.DriverID)
	}
	return updated, nil
}

func canCancel(r *Ride, actor auth.Identity) bool {
	switch actor.Role {
	case auth.RoleSystem, auth.RoleAdmin:
		return true
	case auth.RoleRider:
		return r.RiderID == actor.UserID
	case auth.RoleDriver:
		return r.AssignedTo(actor.UserID)
	}
	return false
}

// apply runs t against r's current status and version. A miss means another
// writer got there first.
func (s *Service) apply(ctx context.Context, r *Ride, t Transition, actor auth.Identity) (*Ride, error) {
	t.RideID = r.ID
	t.From = r.Status
	t.At = s.now()
	updated, ok, err := s.store.Transition(ctx, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.store.Get(ctx, r.ID); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	s.record(ctx, r.Status, updated, actor)
	return updated, nil
}

// record appends the audit event and fans the change out. Failures here do
// not undo the committed transition.
func (s *Service) record(ctx context.Context, from Status, r *Ride, actor auth.Identity) {
	e := Event{
		RideID:     r.ID,
		FromStatus: from,
		ToStatus:   r.Status,
		ActorType:  string(actor.Role),
		CreatedAt:  r.UpdatedAt,
	}
	if actor.Role != auth.RoleSystem && actor.UserID != "" {
		id := actor.UserID
		e.ActorID = &id
	}
	if err := s.store.AppendEvent(ctx, &e); err != nil {
		s.logger.Error("append ride event", zap.String("ride_id", string(r.ID)), zap.Error(err))
	}
	observability.RideTransitionsTotal.WithLabelValues(string(r.Status)).Inc()

	if s.notifier != nil {
		if err := s.notifier.NotifyRideChange(ctx, r.ID, r.Status); err != nil {
			s.logger.Warn("notify ride change", zap.String("ride_id", string(r.ID)), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishRideEvent(ctx, e); err != nil {
			s.logger.Warn("publish ride event", zap.String("ride_id", string(r.ID)), zap.Error(err))
		}
	}
}

func (s *Service) releaseDriver(ctx context.Context, driverID types.ID) {
	if s.drivers == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.drivers.Release(ctx, driverID); err != nil {
		s.logger.Error("release driver", zap.String("driver_id", string(driverID)), zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.store.Get(ctx, id)
}

// View returns the ride if actor may see it: its rider, its driver, any
// driver while it is still open, or an admin.
func (s *Service) View(ctx context.Context, id types.ID, actor auth.Identity) (*Ride, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Is(auth.RoleAdmin), actor.Is(auth.RoleSystem):
	case actor.Is(auth.RoleRider) && r.RiderID == actor.UserID:
	case actor.Is(auth.RoleDriver) && (r.AssignedTo(actor.UserID) || r.Open()):
	default:
		return nil, ErrForbidden
	}
	return r, nil
}

func (s *Service) ListOpen(ctx context.Context) ([]Ride, error) {
	return s.store.ListOpen(ctx)
}

func (s *Service) ActiveForRider(ctx context.Context, riderID types.ID) (*Ride, error) {
	return s.store.ActiveByRider(ctx, riderID)
}

func (s *Service) ActiveForDriver(ctx context.Context, driverID types.ID) (*Ride, error) {
	return s.store.ActiveByDriver(ctx, driverID)
}

func (s *Service) Events(ctx context.Context, rideID types.ID) ([]Event, error) {
	return s.store.Events(ctx, rideID)
}

// ExpireStale cancels open requests created more than ttl ago and returns
// how many were cancelled. Requests claimed in the meantime are skipped.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	stale, err := s.store.ListRequestedBefore(ctx, s.now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	reason := "expired"
	expired := 0
	for i := range stale {
		r := &stale[i]
		updated, ok, err := s.store.Transition(ctx, Transition{
			RideID:          r.ID,
			From:            StatusRequested,
			To:              StatusCancelled,
			Version:         r.StatusVersion,
			RequireNoDriver: true,
			CancelReason:    &reason,
			At:              s.now(),
		})
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		expired++
		s.record(ctx, StatusRequested, updated, auth.System())
	}
	if expired > 0 {
		s.logger.Info("expired stale ride requests", zap.Int("count", expired), zap.Duration("ttl", ttl))
	}
	return expired, nil
}

// RunExpiryLoop calls ExpireStale every interval until ctx is done. A zero
// ttl disables expiry and the loop returns at once.
func (s *Service) RunExpiryLoop(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx, ttl); err != nil && ctx.Err() == nil {
				s.logger.Error("expire stale rides", zap.Error(err))
			}
		}
	}
}
