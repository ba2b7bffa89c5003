// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) LoadRates(ctx context.Context) ([]Rate, error) {
	rows, err := s.db.Query(ctx, `SELECT vehicle_class, per_km FROM pricing_rates ORDER BY vehicle_class`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rate
	for rows.Next() {
		var (
			class string
			r     Rate
		)
		if err := rows.Scan(&class, &r.PerKm); err != nil {
			return nil, err
		}
		r.VehicleClass = types.VehicleClass(class)
		out = append(out, r)
	}
	return out, rows.Err()
}
