// README: Estimator combines a route provider with pricing to produce ride estimates.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"ridecore/internal/logging"
	"ridecore/internal/observability"
	"ridecore/internal/types"
)

type Estimator struct {
	provider     RouteProvider
	providerName string
	geocoder     Geocoder
	pricer       Pricer
	// fallback, when set, answers in place of provider on ErrRoutingUnavailable.
	fallback RouteProvider
	logger   *zap.Logger
}

type Option func(*Estimator)

func WithFallback(p RouteProvider) Option {
	return func(e *Estimator) { e.fallback = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Estimator) { e.logger = logging.OrNop(l) }
}

// WithProviderName labels provider metrics.
func WithProviderName(name string) Option {
	return func(e *Estimator) { e.providerName = name }
}

func NewEstimator(provider RouteProvider, geocoder Geocoder, pricer Pricer, opts ...Option) *Estimator {
	e := &Estimator{
		provider:     provider,
		providerName: "primary",
		geocoder:     geocoder,
		pricer:       pricer,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EstimateRoute returns distance (0.01 km), duration (whole minutes), fare
// and geometry for a trip. It mutates nothing.
func (e *Estimator) EstimateRoute(ctx context.Context, pickup, destination types.Point, class types.VehicleClass) (RouteEstimate, error) {
	if !pickup.Valid() || !destination.Valid() {
		return RouteEstimate{}, ErrInvalidPoint
	}

	route, err := e.provider.Route(ctx, pickup, destination)
	observability.RoutingRequestsTotal.WithLabelValues(e.providerName, resultLabel(err)).Inc()
	if err != nil && e.fallback != nil && errors.Is(err, ErrRoutingUnavailable) {
		e.logger.Warn("routing provider unavailable, using fallback estimate", zap.Error(err))
		route, err = e.fallback.Route(ctx, pickup, destination)
	}
	if err != nil {
		return RouteEstimate{}, err
	}

	km := route.DistanceMeters / 1000
	est := RouteEstimate{
		DistanceKm:  math.Round(km*100) / 100,
		DurationMin: int(math.Round(route.DurationSeconds / 60)),
		Geometry:    route.Geometry,
	}
	// priced on the unrounded distance; only the displayed values are rounded
	price, err := e.pricer.Quote(class, km)
	if err != nil {
		return RouteEstimate{}, fmt.Errorf("price estimate: %w", err)
	}
	est.Price = price
	return est, nil
}

// Geocode resolves address to its first match.
func (e *Estimator) Geocode(ctx context.Context, address string) (types.Point, error) {
	if e.geocoder == nil {
		return types.Point{}, fmt.Errorf("%w: no geocoder configured", ErrRoutingUnavailable)
	}
	p, err := e.geocoder.Geocode(ctx, address)
	observability.RoutingRequestsTotal.WithLabelValues("geocoder", resultLabel(err)).Inc()
	return p, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoRouteFound), errors.Is(err, ErrAddressNotFound):
		return "not_found"
	default:
		return "error"
	}
}
