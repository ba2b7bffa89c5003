package routing

import (
	"context"

	"ridecore/internal/modules/geo"
	"ridecore/internal/types"
)

// StraightLineProvider estimates a route as the great-circle segment between
// the two points, driven at a constant average speed.
type StraightLineProvider struct {
	KmPerHour float64
}

func (s StraightLineProvider) Route(_ context.Context, from, to types.Point) (Route, error) {
	speed := s.KmPerHour
	if speed <= 0 {
		speed = 30
	}
	km := geo.DistanceKm(from, to)
	return Route{
		DistanceMeters:  km * 1000,
		DurationSeconds: km / speed * 3600,
		Geometry:        []types.Point{from, to},
	}, nil
}
