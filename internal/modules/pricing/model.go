// README: Pricing rate definition for each vehicle class.
package pricing

import "ridecore/internal/types"

// Rate is the per-kilometre price of a vehicle class, in minor units.
type Rate struct {
	VehicleClass types.VehicleClass
	PerKm        int64
}

// Policy is the full fare formula:
// max(BaseFare + distanceKm * PerKm[class], MinimumFare).
// Amounts are minor units of Currency.
type Policy struct {
	BaseFare    int64
	MinimumFare int64
	Currency    string
	PerKm       map[types.VehicleClass]int64
}

func DefaultPolicy() Policy {
	return Policy{
		BaseFare:    250,
		MinimumFare: 500,
		Currency:    "EUR",
		PerKm: map[types.VehicleClass]int64{
			types.VehicleStandard: 120,
			types.VehicleFamily:   150,
			types.VehicleLuxury:   180,
		},
	}
}

func (p Policy) clone() Policy {
	out := p
	out.PerKm = make(map[types.VehicleClass]int64, len(p.PerKm))
	for k, v := range p.PerKm {
		out.PerKm[k] = v
	}
	return out
}
