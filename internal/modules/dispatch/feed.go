// README: Ride change feed: subscription type and the in-process broker.
package dispatch

import (
	"context"
	"sync"

	"ridecore/internal/modules/ride"
	"ridecore/internal/observability"
	"ridecore/internal/types"
)

// Change is a hint that a ride row changed. Subscribers re-read the store on
// every change rather than applying it as a delta.
type Change struct {
	RideID types.ID    `json:"ride_id"`
	Status ride.Status `json:"status"`
	Op     string      `json:"op,omitempty"`
}

// Feed delivers ride changes to subscribers.
type Feed interface {
	Subscribe(ctx context.Context) (*Subscription, error)
}

// Subscription buffers changes for one subscriber. When the buffer is full
// further changes are dropped; a pending change already forces a re-read.
type Subscription struct {
	events chan Change
	done   chan struct{}
	once   sync.Once
	stop   func()
}

func newSubscription(buffer int, stop func()) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	return &Subscription{events: make(chan Change, buffer), done: make(chan struct{}), stop: stop}
}

// Events is closed after Close.
func (s *Subscription) Events() <-chan Change { return s.events }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
}

func (s *Subscription) deliver(c Change) {
	select {
	case <-s.done:
	case s.events <- c:
	default:
	}
}

// Broker is an in-process Feed. It also implements ride.ChangeNotifier so the
// ride service can publish to it directly.
type Broker struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{}), buffer: 16}
}

func (b *Broker) Subscribe(ctx context.Context) (*Subscription, error) {
	var sub *Subscription
	sub = newSubscription(b.buffer, func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		close(sub.events)
	})

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (b *Broker) Publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	observability.FeedNotificationsTotal.WithLabelValues("memory").Inc()
	for sub := range b.subs {
		sub.deliver(c)
	}
}

func (b *Broker) NotifyRideChange(_ context.Context, rideID types.ID, status ride.Status) error {
	b.Publish(Change{RideID: rideID, Status: status})
	return nil
}

// Subscribers reports the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
