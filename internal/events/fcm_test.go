package events

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"

	"ridecore/internal/modules/ride"
)

type fakeSender struct {
	sent []*messaging.Message
	err  error
}

func (s *fakeSender) Send(ctx context.Context, m *messaging.Message) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("send without deadline")
	}
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, m)
	return "msg-1", nil
}

func TestPushPublisher_SendsToRideTopic(t *testing.T) {
	s := &fakeSender{}
	p := NewPushPublisher(s, nil)

	err := p.PublishRideEvent(context.Background(), ride.Event{
		RideID:     "ride-9",
		FromStatus: ride.StatusRequested,
		ToStatus:   ride.StatusAccepted,
	})
	if err != nil {
		t.Fatalf("PublishRideEvent() error = %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent = %d", len(s.sent))
	}
	m := s.sent[0]
	if m.Topic != "ride-ride-9" {
		t.Errorf("topic = %q", m.Topic)
	}
	if m.Data["to_status"] != "accepted" || m.Data["from_status"] != "requested" {
		t.Errorf("data = %v", m.Data)
	}
	if m.Notification == nil || m.Notification.Title == "" {
		t.Error("accepted ride should carry a notification")
	}
}

func TestPushPublisher_RequestedIsDataOnly(t *testing.T) {
	s := &fakeSender{}
	p := NewPushPublisher(s, nil)
	_ = p.PublishRideEvent(context.Background(), ride.Event{RideID: "r", ToStatus: ride.StatusRequested})
	if len(s.sent) != 1 || s.sent[0].Notification != nil {
		t.Fatalf("sent = %+v", s.sent)
	}
}

func TestPushPublisher_SendError(t *testing.T) {
	p := NewPushPublisher(&fakeSender{err: errors.New("unavailable")}, nil)
	if err := p.PublishRideEvent(context.Background(), ride.Event{RideID: "r"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFanout_JoinsErrors(t *testing.T) {
	ok := &fakeSender{}
	boom := errors.New("kafka down")
	f := Fanout{
		NewPublisher(&fakeWriter{err: boom}, nil),
		NewPushPublisher(ok, nil),
	}
	err := f.PublishRideEvent(context.Background(), ride.Event{RideID: "r", ToStatus: ride.StatusCancelled})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(ok.sent) != 1 {
		t.Fatal("second publisher skipped after first failed")
	}
}
