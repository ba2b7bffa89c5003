// README: Kafka publisher for ride lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ridecore/internal/logging"
	"ridecore/internal/modules/ride"
	"ridecore/internal/types"
)

const publishTimeout = 2 * time.Second

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RideEvent is the wire form of a ride transition on the topic.
type RideEvent struct {
	RideID     types.ID    `json:"ride_id"`
	FromStatus ride.Status `json:"from_status"`
	ToStatus   ride.Status `json:"to_status"`
	ActorType  string      `json:"actor_type"`
	ActorID    *types.ID   `json:"actor_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return NewPublisher(w, logger)
}

func NewPublisher(w MessageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logging.OrNop(logger)}
}

// PublishRideEvent writes e keyed by ride id, so a ride's events stay ordered
// within one partition.
func (p *KafkaPublisher) PublishRideEvent(ctx context.Context, e ride.Event) error {
	b, err := json.Marshal(RideEvent{
		RideID:     e.RideID,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		ActorType:  e.ActorType,
		ActorID:    e.ActorID,
		OccurredAt: e.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode ride event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.RideID), Value: b}); err != nil {
		p.logger.Warn("publish ride event", zap.String("ride_id", string(e.RideID)), zap.Error(err))
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
