// README: Driver availability state and last known location.
package availability

import (
	"time"

	"ridecore/internal/types"
)

type Availability string

const (
	Offline   Availability = "offline"
	Available Availability = "available"
	// Busy is entered only by claiming a ride and left when the ride ends.
	Busy Availability = "busy"
)

func (a Availability) Valid() bool {
	return a == Offline || a == Available || a == Busy
}

type Driver struct {
	ID                types.ID
	Availability      Availability
	Location          *types.Point
	LocationUpdatedAt *time.Time
	UpdatedAt         time.Time
}

func (d *Driver) clone() *Driver {
	c := *d
	if d.Location != nil {
		p := *d.Location
		c.Location = &p
	}
	if d.LocationUpdatedAt != nil {
		t := *d.LocationUpdatedAt
		c.LocationUpdatedAt = &t
	}
	return &c
}
