// README: Ride aggregate, status definitions and the lifecycle transition table.
package ride

import (
	"time"

	"ridecore/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusRequested  Status = "requested"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active states hold a rider (and, past requested, a driver).
func (s Status) Active() bool {
	return s == StatusRequested || s == StatusAccepted || s == StatusInProgress
}

// Place is a coordinate plus the human-readable address it was resolved from.
type Place struct {
	Point   types.Point `json:"point"`
	Address string      `json:"address"`
}

type Ride struct {
	ID                   types.ID
	RiderID              types.ID
	DriverID             *types.ID
	Pickup               Place
	Destination          Place
	VehicleClass         types.VehicleClass
	Status               Status
	StatusVersion        int
	EstimatedDistanceKm  float64
	EstimatedDurationMin int
	EstimatedPrice       types.Money
	FinalPrice           *types.Money
	ActualDurationMin    *int
	RiderComment         string
	CancelReason         *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	AcceptedAt           *time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	CancelledAt          *time.Time
}

// Open reports whether the ride is waiting for a driver.
func (r *Ride) Open() bool {
	return r.Status == StatusRequested && r.DriverID == nil
}

// AssignedTo reports whether driverID is the ride's driver.
func (r *Ride) AssignedTo(driverID types.ID) bool {
	return r.DriverID != nil && *r.DriverID == driverID
}

func (r *Ride) clone() *Ride {
	c := *r
	if r.DriverID != nil {
		d := *r.DriverID
		c.DriverID = &d
	}
	if r.FinalPrice != nil {
		m := *r.FinalPrice
		c.FinalPrice = &m
	}
	if r.ActualDurationMin != nil {
		n := *r.ActualDurationMin
		c.ActualDurationMin = &n
	}
	if r.CancelReason != nil {
		s := *r.CancelReason
		c.CancelReason = &s
	}
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type Event struct {
	ID         int64
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// Trigger names an input of the lifecycle state machine.
type Trigger string

const (
	TriggerCreate   Trigger = "create"
	TriggerClaim    Trigger = "claim"
	TriggerStart    Trigger = "start"
	TriggerComplete Trigger = "complete"
	TriggerCancel   Trigger = "cancel"
)

// AllowedTransitions represents the ride state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusNone:       {StatusRequested},
	StatusRequested:  {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

var triggerTargets = map[Trigger]Status{
	TriggerCreate:   StatusRequested,
	TriggerClaim:    StatusAccepted,
	TriggerStart:    StatusInProgress,
	TriggerComplete: StatusCompleted,
	TriggerCancel:   StatusCancelled,
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Next returns the status reached by firing trigger in from, or
// ErrInvalidTransition. It is total over every (status, trigger) pair.
func Next(from Status, trigger Trigger) (Status, error) {
	to, ok := triggerTargets[trigger]
	if !ok || !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}
