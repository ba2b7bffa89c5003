package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridecore/internal/logging"
	"ridecore/internal/modules/ride"
	"ridecore/internal/observability"
	"ridecore/internal/types"
)

const redisRideChannel = "ridecore:ride_changes"

// RedisFeed fans ride changes out over Redis pub/sub, for deployments where
// API replicas do not share a PostgreSQL listener.
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisFeed(client *redis.Client, logger *zap.Logger) *RedisFeed {
	return &RedisFeed{client: client, channel: redisRideChannel, logger: logging.OrNop(logger)}
}

func (f *RedisFeed) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := f.client.Subscribe(ctx, f.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(16, cancel)

	go func() {
		defer close(sub.events)
		defer ps.Close()
		defer sub.Close()

		ch := ps.Channel()
		for {
			select {
			case <-readCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					f.logger.Warn("ride feed pubsub channel closed")
					return
				}
				observability.FeedNotificationsTotal.WithLabelValues("redis").Inc()
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					f.logger.Debug("undecodable ride notification", zap.String("payload", msg.Payload))
				}
				sub.deliver(c)
			}
		}
	}()
	return sub, nil
}

func (f *RedisFeed) NotifyRideChange(ctx context.Context, rideID types.ID, status ride.Status) error {
	payload, err := json.Marshal(Change{RideID: rideID, Status: status})
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, payload).Err()
}
