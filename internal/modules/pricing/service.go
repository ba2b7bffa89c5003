// README: Pricing service computes fare estimates.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"ridecore/internal/logging"
	"ridecore/internal/types"
)

var (
	ErrUnknownVehicleClass = errors.New("unknown vehicle class")
	ErrInvalidDistance     = errors.New("invalid distance")
)

// RateLoader is satisfied by *Store.
type RateLoader interface {
	LoadRates(ctx context.Context) ([]Rate, error)
}

type Service struct {
	store  RateLoader
	logger *zap.Logger

	mu     sync.RWMutex
	policy Policy
}

// NewService prices with policy. store may be nil, in which case the policy's
// per-km rates are never overridden.
func NewService(store RateLoader, policy Policy, logger *zap.Logger) *Service {
	return &Service{store: store, policy: policy.clone(), logger: logging.OrNop(logger)}
}

// Refresh replaces per-km rates with those stored in pricing_rates. Classes
// missing from the table keep their configured rate.
func (s *Service) Refresh(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	rates, err := s.store.LoadRates(ctx)
	if err != nil {
		return fmt.Errorf("pricing: load rates: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.policy.clone()
	for _, r := range rates {
		if !r.VehicleClass.Valid() || r.PerKm < 0 {
			s.logger.Warn("ignoring invalid pricing rate",
				zap.String("vehicle_class", string(r.VehicleClass)), zap.Int64("per_km", r.PerKm))
			continue
		}
		next.PerKm[r.VehicleClass] = r.PerKm
	}
	s.policy = next
	s.logger.Info("pricing rates refreshed", zap.Int("overrides", len(rates)))
	return nil
}

// Quote prices a trip of distanceKm in the given class. The result is
// non-decreasing in distance and in class for the default rates.
func (s *Service) Quote(class types.VehicleClass, distanceKm float64) (types.Money, error) {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		return types.Money{}, ErrInvalidDistance
	}

	s.mu.RLock()
	p := s.policy
	perKm, ok := p.PerKm[class]
	s.mu.RUnlock()
	if !ok {
		return types.Money{}, fmt.Errorf("%w: %q", ErrUnknownVehicleClass, class)
	}

	amount := int64(math.Round(float64(p.BaseFare) + distanceKm*float64(perKm)))
	if amount < p.MinimumFare {
		amount = p.MinimumFare
	}
	return types.Money{Amount: amount, Currency: p.Currency}, nil
}

// Estimate is Quote with a context, for callers that treat pricing as a
// remote dependency.
func (s *Service) Estimate(ctx context.Context, distanceKm float64, class types.VehicleClass) (types.Money, error) {
	if err := ctx.Err(); err != nil {
		return types.Money{}, err
	}
	return s.Quote(class, distanceKm)
}
