// README: Base handler utilities (JSON helpers, error mapping, response shapes).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ridecore/internal/modules/availability"
	"ridecore/internal/modules/dispatch"
	"ridecore/internal/modules/ride"
	"ridecore/internal/modules/routing"
	"ridecore/internal/types"
)

var errInvalidPoint = errors.New("invalid lat/lng")

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the UUIDs the ride store issues.
func isValidID(v string) bool {
	_, err := uuid.Parse(v)
	return err == nil
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors to HTTP statuses. Unknown errors are
// logged by the request logger and hidden from the caller.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrBadRequest),
		errors.Is(err, routing.ErrInvalidPoint),
		errors.Is(err, availability.ErrInvalidAvailability),
		errors.Is(err, availability.ErrInvalidLocation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ride.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrAlreadyClaimed),
		errors.Is(err, ride.ErrInvalidTransition),
		errors.Is(err, ride.ErrConflict),
		errors.Is(err, ride.ErrActiveRide),
		errors.Is(err, availability.ErrDriverUnavailable),
		errors.Is(err, availability.ErrBusyDriver):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, availability.ErrProfileNotConfigured):
		writeError(c, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, routing.ErrAddressNotFound), errors.Is(err, routing.ErrNoRouteFound):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, routing.ErrRoutingUnavailable):
		writeError(c, http.StatusBadGateway, "routing service unavailable, please retry")
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type rideResponse struct {
	ID                   types.ID           `json:"id"`
	RiderID              types.ID           `json:"rider_id"`
	DriverID             *types.ID          `json:"driver_id"`
	Pickup               ride.Place         `json:"pickup"`
	Destination          ride.Place         `json:"destination"`
	VehicleClass         types.VehicleClass `json:"vehicle_class"`
	Status               ride.Status        `json:"status"`
	EstimatedDistanceKm  float64            `json:"estimated_distance_km"`
	EstimatedDurationMin int                `json:"estimated_duration_min"`
	EstimatedPrice       types.Money        `json:"estimated_price"`
	FinalPrice           *types.Money       `json:"final_price,omitempty"`
	ActualDurationMin    *int               `json:"actual_duration_min,omitempty"`
	RiderComment         string             `json:"rider_comment,omitempty"`
	CancelReason         *string            `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	AcceptedAt           *time.Time         `json:"accepted_at,omitempty"`
	StartedAt            *time.Time         `json:"started_at,omitempty"`
	CompletedAt          *time.Time         `json:"completed_at,omitempty"`
	CancelledAt          *time.Time         `json:"cancelled_at,omitempty"`
}

func toRideResponse(r *ride.Ride) rideResponse {
	return rideResponse{
		ID:                   r.ID,
		RiderID:              r.RiderID,
		DriverID:             r.DriverID,
		Pickup:               r.Pickup,
		Destination:          r.Destination,
		VehicleClass:         r.VehicleClass,
		Status:               r.Status,
		EstimatedDistanceKm:  r.EstimatedDistanceKm,
		EstimatedDurationMin: r.EstimatedDurationMin,
		EstimatedPrice:       r.EstimatedPrice,
		FinalPrice:           r.FinalPrice,
		ActualDurationMin:    r.ActualDurationMin,
		RiderComment:         r.RiderComment,
		CancelReason:         r.CancelReason,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		AcceptedAt:           r.AcceptedAt,
		StartedAt:            r.StartedAt,
		CompletedAt:          r.CompletedAt,
		CancelledAt:          r.CancelledAt,
	}
}

func toRideResponses(rides []ride.Ride) []rideResponse {
	out := make([]rideResponse, 0, len(rides))
	for i := range rides {
		out = append(out, toRideResponse(&rides[i]))
	}
	return out
}

type driverResponse struct {
	ID                types.ID                  `json:"id"`
	Availability      availability.Availability `json:"availability"`
	Location          *types.Point              `json:"location"`
	LocationUpdatedAt *time.Time                `json:"location_updated_at,omitempty"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

func toDriverResponse(d *availability.Driver) driverResponse {
	return driverResponse{
		ID:                d.ID,
		Availability:      d.Availability,
		Location:          d.Location,
		LocationUpdatedAt: d.LocationUpdatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

type snapshotResponse struct {
	Rides    []rideResponse `json:"rides"`
	Degraded bool           `json:"degraded"`
	At       time.Time      `json:"at"`
}

func toSnapshotResponse(s dispatch.Snapshot) snapshotResponse {
	return snapshotResponse{Rides: toRideResponses(s.Rides), Degraded: s.Degraded, At: s.At}
}

// rideID reads and validates the :id path parameter.
func rideID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if id == "" || !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return "", false
	}
	return types.ID(id), true
}
