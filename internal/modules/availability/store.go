// README: Driver availability store backed by PostgreSQL.
package availability

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

// Store persists driver state. SetAvailability is a conditional update that
// applies only when the current availability is one of from.
type Store interface {
	Register(ctx context.Context, id types.ID, at time.Time) error
	Get(ctx context.Context, id types.ID) (*Driver, error)
	SetAvailability(ctx context.Context, id types.ID, from []Availability, to Availability, at time.Time) (bool, error)
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) (*Driver, error)
	ListAvailable(ctx context.Context) ([]Driver, error)
}

const driverColumns = `driver_id, availability, location_lat, location_lng, location_updated_at, updated_at`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Register(ctx context.Context, id types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (driver_id, availability, created_at, updated_at)
		VALUES ($1, 'offline', $2, $2)
		ON CONFLICT (driver_id) DO NOTHING`, string(id), at)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE driver_id = $1`, string(id))
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotConfigured
	}
	return d, err
}

func (s *PGStore) SetAvailability(ctx context.Context, id types.ID, from []Availability, to Availability, at time.Time) (bool, error) {
	states := make([]string, len(from))
	for i, f := range from {
		states[i] = string(f)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET availability = $1, updated_at = $2
		WHERE driver_id = $3 AND availability = ANY($4)`,
		string(to), at, string(id), states)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE drivers
		SET location_lat = $1, location_lng = $2, location_updated_at = $3, updated_at = $3
		WHERE driver_id = $4
		RETURNING `+driverColumns,
		p.Lat, p.Lng, at, string(id))
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotConfigured
	}
	return d, err
}

func (s *PGStore) ListAvailable(ctx context.Context) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `SELECT `+driverColumns+` FROM drivers WHERE availability = 'available'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var lat, lng sql.NullFloat64
	var locAt sql.NullTime
	if err := row.Scan(&d.ID, &d.Availability, &lat, &lng, &locAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		d.Location = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if locAt.Valid {
		t := locAt.Time
		d.LocationUpdatedAt = &t
	}
	return &d, nil
}
