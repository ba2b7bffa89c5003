// README: Route estimate and geocoding handlers.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridecore/internal/modules/routing"
	"ridecore/internal/types"
)

type RouteHandler struct {
	estimator *routing.Estimator
}

func NewRouteHandler(estimator *routing.Estimator) *RouteHandler {
	return &RouteHandler{estimator: estimator}
}

type estimateReq struct {
	Pickup       types.Point        `json:"pickup"`
	Destination  types.Point        `json:"destination"`
	VehicleClass types.VehicleClass `json:"vehicle_class" binding:"required,oneof=standard family luxury"`
}

func (h *RouteHandler) Estimate(c *gin.Context) {
	var req estimateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	est, err := h.estimator.EstimateRoute(c.Request.Context(), req.Pickup, req.Destination, req.VehicleClass)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, est)
}

func (h *RouteHandler) Geocode(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		writeError(c, http.StatusBadRequest, "missing q")
		return
	}
	p, err := h.estimator.Geocode(c.Request.Context(), q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"query": q, "location": p})
}
