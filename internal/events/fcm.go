package events

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"ridecore/internal/logging"
	"ridecore/internal/modules/ride"
)

// Sender is the part of *messaging.Client the push publisher uses.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushPublisher sends each ride transition to the FCM topic "ride-<id>".
// Rider and driver apps subscribe to the topic of the ride they are on.
type PushPublisher struct {
	sender Sender
	logger *zap.Logger
}

func NewPushPublisher(sender Sender, logger *zap.Logger) *PushPublisher {
	return &PushPublisher{sender: sender, logger: logging.OrNop(logger)}
}

func RideTopic(rideID string) string { return "ride-" + rideID }

func (p *PushPublisher) PublishRideEvent(ctx context.Context, e ride.Event) error {
	msg := &messaging.Message{
		Topic: RideTopic(string(e.RideID)),
		Data: map[string]string{
			"type":        "ride_status",
			"ride_id":     string(e.RideID),
			"from_status": string(e.FromStatus),
			"to_status":   string(e.ToStatus),
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	}
	if n := notificationFor(e.ToStatus); n != nil {
		msg.Notification = n
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	id, err := p.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("send FCM for ride %s: %w", e.RideID, err)
	}
	p.logger.Debug("ride push sent", zap.String("ride_id", string(e.RideID)), zap.String("message_id", id))
	return nil
}

// notificationFor returns the user-visible banner for statuses worth one.
func notificationFor(s ride.Status) *messaging.Notification {
	switch s {
	case ride.StatusAccepted:
		return &messaging.Notification{Title: "Driver on the way", Body: "A driver accepted your ride."}
	case ride.StatusInProgress:
		return &messaging.Notification{Title: "Ride started", Body: "Enjoy your trip."}
	case ride.StatusCompleted:
		return &messaging.Notification{Title: "Ride completed", Body: "Thanks for riding with us."}
	case ride.StatusCancelled:
		return &messaging.Notification{Title: "Ride cancelled", Body: "This ride was cancelled."}
	}
	return nil
}
