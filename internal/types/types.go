// README: Identifiers, coordinates and vehicle classes shared by the dispatch modules.
package types

// ID is an opaque identifier issued by the store or the identity provider.
type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

type VehicleClass string

const (
	VehicleStandard VehicleClass = "standard"
	VehicleFamily   VehicleClass = "family"
	VehicleLuxury   VehicleClass = "luxury"
)

// VehicleClasses lists every class, cheapest first.
var VehicleClasses = []VehicleClass{VehicleStandard, VehicleFamily, VehicleLuxury}

func (c VehicleClass) Valid() bool {
	for _, v := range VehicleClasses {
		if v == c {
			return true
		}
	}
	return false
}
