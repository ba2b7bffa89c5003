// README: Route estimate types, provider interfaces and sentinel errors.
package routing

import (
	"context"
	"errors"

	"ridecore/internal/types"
)

var (
	// ErrRoutingUnavailable covers transport failures, non-success responses
	// and undecodable bodies. Callers may retry.
	ErrRoutingUnavailable = errors.New("routing service unavailable")
	ErrNoRouteFound       = errors.New("no route found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrInvalidPoint       = errors.New("invalid coordinates")
)

// Route is a raw provider answer in SI units.
type Route struct {
	DistanceMeters  float64
	DurationSeconds float64
	Geometry        []types.Point
}

type RouteEstimate struct {
	DistanceKm  float64       `json:"distance_km"`
	DurationMin int           `json:"duration_min"`
	Price       types.Money   `json:"price"`
	Geometry    []types.Point `json:"geometry"`
}

type RouteProvider interface {
	Route(ctx context.Context, from, to types.Point) (Route, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

// Pricer is satisfied by *pricing.Service.
type Pricer interface {
	Quote(class types.VehicleClass, distanceKm float64) (types.Money, error)
}
