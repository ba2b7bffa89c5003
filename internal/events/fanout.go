package events

import (
	"context"
	"errors"

	"ridecore/internal/modules/ride"
)

// Fanout publishes to every wrapped publisher and joins their errors.
type Fanout []ride.EventPublisher

func (f Fanout) PublishRideEvent(ctx context.Context, e ride.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishRideEvent(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
