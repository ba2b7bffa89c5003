package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"ridecore/internal/logging"
	"ridecore/internal/modules/ride"
	"ridecore/internal/observability"
	"ridecore/internal/types"
)

// RideChangesChannel is the NOTIFY channel written by the rides trigger.
const RideChangesChannel = "ride_changes"

// PGFeed listens on PostgreSQL NOTIFY. Each subscription holds one dedicated
// connection taken out of the pool.
type PGFeed struct {
	pool    *pgxpool.Pool
	channel string
	logger  *zap.Logger
}

func NewPGFeed(pool *pgxpool.Pool, logger *zap.Logger) *PGFeed {
	return &PGFeed{pool: pool, channel: RideChangesChannel, logger: logging.OrNop(logger)}
}

func (f *PGFeed) Subscribe(ctx context.Context) (*Subscription, error) {
	pooled, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := pooled.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		pooled.Release()
		return nil, fmt.Errorf("listen %s: %w", f.channel, err)
	}
	conn := pooled.Hijack()

	readCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(16, cancel)

	go func() {
		defer close(sub.events)
		defer conn.Close(context.Background())
		defer sub.Close()

		for {
			n, err := conn.WaitForNotification(readCtx)
			if err != nil {
				if readCtx.Err() == nil {
					f.logger.Warn("ride feed listener stopped", zap.Error(err))
				}
				return
			}
			observability.FeedNotificationsTotal.WithLabelValues("postgres").Inc()
			var c Change
			if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
				f.logger.Debug("undecodable ride notification", zap.String("payload", n.Payload))
			}
			sub.deliver(c)
		}
	}()
	return sub, nil
}

// NotifyRideChange is a no-op: the rides trigger issues the NOTIFY inside the
// writing transaction.
func (f *PGFeed) NotifyRideChange(context.Context, types.ID, ride.Status) error {
	return nil
}
