// README: Ride store contract and its PostgreSQL implementation.
package ride

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

// AnyVersion disables the status_version predicate of a Transition.
const AnyVersion = -1

// Transition is a single conditional update. It applies only when the row
// still has status From (and status_version Version unless AnyVersion, and no
// driver when RequireNoDriver).
type Transition struct {
	RideID            types.ID
	From              Status
	To                Status
	Version           int
	RequireNoDriver   bool
	AssignDriver      *types.ID
	ClearDriver       bool
	FinalPrice        *types.Money
	ActualDurationMin *int
	CancelReason      *string
	At                time.Time
}

// Store is the persistence contract of the ride lifecycle. Transition must be
// atomic with respect to concurrent callers; it returns the updated row, or
// ok=false when the predicate matched nothing.
type Store interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	Transition(ctx context.Context, t Transition) (updated *Ride, ok bool, err error)
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, rideID types.ID) ([]Event, error)
	ListOpen(ctx context.Context) ([]Ride, error)
	ListRequestedBefore(ctx context.Context, cutoff time.Time) ([]Ride, error)
	ActiveByRider(ctx context.Context, riderID types.ID) (*Ride, error)
	ActiveByDriver(ctx context.Context, driverID types.ID) (*Ride, error)
}

const (
	uniqueViolation        = "23505"
	activeRiderConstraint  = "rides_one_active_per_rider"
	activeDriverConstraint = "rides_one_active_per_driver"
)

const rideColumns = `
	id, rider_id, driver_id, status, status_version,
	pickup_lat, pickup_lng, pickup_address,
	destination_lat, destination_lng, destination_address,
	vehicle_class, estimated_distance_km, estimated_duration_min,
	estimated_price, currency, final_price, actual_duration_min,
	rider_comment, cancel_reason,
	created_at, updated_at, accepted_at, started_at, completed_at, cancelled_at`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rides (
			id, rider_id, driver_id, status, status_version,
			pickup_lat, pickup_lng, pickup_address,
			destination_lat, destination_lng, destination_address,
			vehicle_class, estimated_distance_km, estimated_duration_min,
			estimated_price, currency, rider_comment, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, $18
		)`,
		string(r.ID),
		string(r.RiderID),
		toStringPtr(r.DriverID),
		string(r.Status),
		r.StatusVersion,
		r.Pickup.Point.Lat, r.Pickup.Point.Lng, r.Pickup.Address,
		r.Destination.Point.Lat, r.Destination.Point.Lng, r.Destination.Address,
		string(r.VehicleClass),
		r.EstimatedDistanceKm,
		r.EstimatedDurationMin,
		r.EstimatedPrice.Amount,
		r.EstimatedPrice.Currency,
		r.RiderComment,
		r.CreatedAt,
	)
	if isUniqueViolation(err, activeRiderConstraint) {
		return ErrActiveRide
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PGStore) Transition(ctx context.Context, t Transition) (*Ride, bool, error) {
	var finalPrice *int64
	if t.FinalPrice != nil {
		finalPrice = &t.FinalPrice.Amount
	}
	row := s.db.QueryRow(ctx, `
		UPDATE rides
		SET status = $1::text,
			status_version = status_version + 1,
			driver_id = CASE WHEN $2::boolean THEN NULL ELSE COALESCE($3::text, driver_id) END,
			final_price = COALESCE($4::bigint, final_price),
			actual_duration_min = COALESCE($5::int, actual_duration_min),
			cancel_reason = COALESCE($6::text, cancel_reason),
			updated_at = $7,
			accepted_at = CASE WHEN $1::text = 'accepted' THEN $7 ELSE accepted_at END,
			started_at = CASE WHEN $1::text = 'in_progress' THEN $7 ELSE started_at END,
			completed_at = CASE WHEN $1::text = 'completed' THEN $7 ELSE completed_at END,
			cancelled_at = CASE WHEN $1::text = 'cancelled' THEN $7 ELSE cancelled_at END
		WHERE id = $8 AND status = $9
		  AND ($10::int < 0 OR status_version = $10::int)
		  AND (NOT $11::boolean OR driver_id IS NULL)
		RETURNING `+rideColumns,
		string(t.To),
		t.ClearDriver,
		toStringPtr(t.AssignDriver),
		finalPrice,
		t.ActualDurationMin,
		t.CancelReason,
		t.At,
		string(t.RideID),
		string(t.From),
		t.Version,
		t.RequireNoDriver,
	)
	r, err := scanRide(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, false, nil
	case isUniqueViolation(err, activeDriverConstraint):
		return nil, false, ErrDriverBusy
	case err != nil:
		return nil, false, err
	}
	return r, true, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO ride_events (
			ride_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(e.RideID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	).Scan(&e.ID)
}

func (s *PGStore) Events(ctx context.Context, rideID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, from_status, to_status, actor_type, actor_id, created_at
		FROM ride_events
		WHERE ride_id = $1
		ORDER BY id`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.RideID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			id := types.ID(actorID.String)
			e.ActorID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) ListOpen(ctx context.Context) ([]Ride, error) {
	return s.list(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE status = 'requested' AND driver_id IS NULL
		ORDER BY created_at DESC`)
}

func (s *PGStore) ListRequestedBefore(ctx context.Context, cutoff time.Time) ([]Ride, error) {
	return s.list(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE status = 'requested' AND driver_id IS NULL AND created_at < $1
		ORDER BY created_at`, cutoff)
}

func (s *PGStore) ActiveByRider(ctx context.Context, riderID types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE rider_id = $1 AND status IN ('requested','accepted','in_progress')
		ORDER BY created_at DESC
		LIMIT 1`, string(riderID))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PGStore) ActiveByDriver(ctx context.Context, driverID types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE driver_id = $1 AND status IN ('accepted','in_progress')
		ORDER BY accepted_at DESC
		LIMIT 1`, string(driverID))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]Ride, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var driverID, cancelReason sql.NullString
	var finalPrice sql.NullInt64
	var actualDuration sql.NullInt32
	var acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.RiderID, &driverID, &r.Status, &r.StatusVersion,
		&r.Pickup.Point.Lat, &r.Pickup.Point.Lng, &r.Pickup.Address,
		&r.Destination.Point.Lat, &r.Destination.Point.Lng, &r.Destination.Address,
		&r.VehicleClass, &r.EstimatedDistanceKm, &r.EstimatedDurationMin,
		&r.EstimatedPrice.Amount, &r.EstimatedPrice.Currency, &finalPrice, &actualDuration,
		&r.RiderComment, &cancelReason,
		&r.CreatedAt, &r.UpdatedAt, &acceptedAt, &startedAt, &completedAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	if driverID.Valid {
		d := types.ID(driverID.String)
		r.DriverID = &d
	}
	if finalPrice.Valid {
		m := types.Money{Amount: finalPrice.Int64, Currency: r.EstimatedPrice.Currency}
		r.FinalPrice = &m
	}
	if actualDuration.Valid {
		n := int(actualDuration.Int32)
		r.ActualDurationMin = &n
	}
	if cancelReason.Valid {
		r.CancelReason = &cancelReason.String
	}
	r.AcceptedAt = toTimePtr(acceptedAt)
	r.StartedAt = toTimePtr(startedAt)
	r.CompletedAt = toTimePtr(completedAt)
	r.CancelledAt = toTimePtr(cancelledAt)
	return &r, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
