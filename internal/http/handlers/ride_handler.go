// README: Ride handlers for create/get/cancel and the driver-side start/complete.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/ride"
	"ridecore/internal/types"
)

// Geocoder resolves free-text addresses for requests that omit coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

type RideHandler struct {
	rides    *ride.Service
	geocoder Geocoder
}

func NewRideHandler(rides *ride.Service, geocoder Geocoder) *RideHandler {
	return &RideHandler{rides: rides, geocoder: geocoder}
}

type placeReq struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

type createRideReq struct {
	Pickup       placeReq           `json:"pickup"`
	Destination  placeReq           `json:"destination"`
	VehicleClass types.VehicleClass `json:"vehicle_class" binding:"required"`
	Comment      string             `json:"comment"`
}

var errMissingPlace = errors.New("place needs lat/lng or an address")

func (h *RideHandler) resolve(ctx context.Context, p placeReq) (ride.Place, error) {
	addr := strings.TrimSpace(p.Address)
	if p.Lat != nil && p.Lng != nil {
		return ride.Place{Point: types.Point{Lat: *p.Lat, Lng: *p.Lng}, Address: addr}, nil
	}
	if addr == "" || h.geocoder == nil {
		return ride.Place{}, errMissingPlace
	}
	pt, err := h.geocoder.Geocode(ctx, addr)
	if err != nil {
		return ride.Place{}, err
	}
	return ride.Place{Point: pt, Address: addr}, nil
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := c.Request.Context()
	pickup, err := h.resolve(ctx, req.Pickup)
	if err != nil {
		if errors.Is(err, errMissingPlace) {
			writeError(c, http.StatusBadRequest, "pickup: "+err.Error())
			return
		}
		writeServiceError(c, err)
		return
	}
	destination, err := h.resolve(ctx, req.Destination)
	if err != nil {
		if errors.Is(err, errMissingPlace) {
			writeError(c, http.StatusBadRequest, "destination: "+err.Error())
			return
		}
		writeServiceError(c, err)
		return
	}

	r, err := h.rides.Create(ctx, ride.CreateCommand{
		Rider:        middleware.Caller(c),
		Pickup:       pickup,
		Destination:  destination,
		VehicleClass: req.VehicleClass,
		RiderComment: req.Comment,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toRideResponse(r))
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.rides.View(c.Request.Context(), id, middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRideResponse(r))
}

type eventResponse struct {
	FromStatus ride.Status `json:"from_status"`
	ToStatus   ride.Status `json:"to_status"`
	ActorType  string      `json:"actor_type"`
	ActorID    *types.ID   `json:"actor_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (h *RideHandler) Events(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.rides.View(ctx, id, middleware.Caller(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	events, err := h.rides.Events(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			ActorType:  e.ActorType,
			ActorID:    e.ActorID,
			CreatedAt:  e.CreatedAt.UTC(),
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"events": out})
}

type cancelReq struct {
	Reason string `json:"reason" binding:"max=200"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	r, err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID: id,
		Actor:  middleware.Caller(c),
		Reason: req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRideResponse(r))
}

func (h *RideHandler) ActiveForRider(c *gin.Context) {
	r, err := h.rides.ActiveForRider(c.Request.Context(), middleware.Caller(c).UserID)
	if err != nil {
		if errors.Is(err, ride.ErrNotFound) {
			writeJSON(c, http.StatusOK, gin.H{"ride": nil})
			return
		}
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": toRideResponse(r)})
}

func (h *RideHandler) ActiveForDriver(c *gin.Context) {
	r, err := h.rides.ActiveForDriver(c.Request.Context(), middleware.Caller(c).UserID)
	if err != nil {
		if errors.Is(err, ride.ErrNotFound) {
			writeJSON(c, http.StatusOK, gin.H{"ride": nil})
			return
		}
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": toRideResponse(r)})
}

func (h *RideHandler) Start(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.rides.Start(c.Request.Context(), ride.StartCommand{RideID: id, Actor: middleware.Caller(c)})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRideResponse(r))
}

type completeReq struct {
	FinalPrice *float64 `json:"final_price" binding:"omitempty,gte=0"`
}

func (h *RideHandler) Complete(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	var req completeReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	cmd := ride.CompleteCommand{RideID: id, Actor: middleware.Caller(c)}
	if req.FinalPrice != nil {
		// currency follows the estimate; the service fills it in
		m := types.MoneyFromMajor(*req.FinalPrice, "")
		cmd.FinalPrice = &m
	}
	r, err := h.rides.Complete(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRideResponse(r))
}
