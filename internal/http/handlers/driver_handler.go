// README: Driver handlers for onboarding, availability and location reports.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/availability"
	"ridecore/internal/types"
)

type DriverHandler struct {
	drivers *availability.Service
}

func NewDriverHandler(drivers *availability.Service) *DriverHandler {
	return &DriverHandler{drivers: drivers}
}

func (h *DriverHandler) Register(c *gin.Context) {
	d, err := h.drivers.Register(c.Request.Context(), middleware.Caller(c).UserID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(d))
}

func (h *DriverHandler) Me(c *gin.Context) {
	d, err := h.drivers.Get(c.Request.Context(), middleware.Caller(c).UserID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(d))
}

type availabilityReq struct {
	Availability availability.Availability `json:"availability" binding:"required"`
	// Location is optional; when present it is reported before the switch.
	Location *types.Point `json:"location"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := c.Request.Context()
	driverID := middleware.Caller(c).UserID
	if req.Location != nil {
		if _, err := h.drivers.ReportLocation(ctx, driverID, *req.Location); err != nil {
			writeServiceError(c, err)
			return
		}
	}
	d, err := h.drivers.SetAvailability(ctx, driverID, req.Availability)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(d))
}

func (h *DriverHandler) ReportLocation(c *gin.Context) {
	var p types.Point
	if err := c.ShouldBindJSON(&p); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := h.drivers.ReportLocation(c.Request.Context(), middleware.Caller(c).UserID, p)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResponse(d))
}

// Nearby lists available drivers around lat/lng for operators.
func (h *DriverHandler) Nearby(c *gin.Context) {
	p, ok, err := queryPoint(c)
	if err != nil || !ok {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := 5.0
	if v := c.Query("radius_km"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil || radius <= 0 {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
	}
	drivers, err := h.drivers.Nearby(c.Request.Context(), p, radius)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]driverResponse, 0, len(drivers))
	for i := range drivers {
		out = append(out, toDriverResponse(&drivers[i]))
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": out})
}
