// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ridecore/internal/auth"
	"ridecore/internal/http/handlers"
	"ridecore/internal/http/middleware"
	"ridecore/internal/infra"
	"ridecore/internal/logging"
	"ridecore/internal/modules/availability"
	"ridecore/internal/modules/dispatch"
	"ridecore/internal/modules/ride"
	"ridecore/internal/modules/routing"
)

type RouterDeps struct {
	Rides     *ride.Service
	Dispatch  *dispatch.Service
	Drivers   *availability.Service
	Estimator *routing.Estimator
	Verifier  infra.TokenVerifier
	Logger    *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	logger := logging.OrNop(deps.Logger)

	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.Logging(logger), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	routeHandler := handlers.NewRouteHandler(deps.Estimator)
	api.POST("/routes/estimate", routeHandler.Estimate)
	api.GET("/geocode", routeHandler.Geocode)

	rideHandler := handlers.NewRideHandler(deps.Rides, deps.Estimator)
	api.POST("/rides", middleware.RequireRole(auth.RoleRider), rideHandler.Create)
	api.GET("/rides/:id", rideHandler.Get)
	api.GET("/rides/:id/events", rideHandler.Events)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)
	api.GET("/rider/rides/active", middleware.RequireRole(auth.RoleRider), rideHandler.ActiveForRider)

	dispatchHandler := handlers.NewDispatchHandler(deps.Dispatch, logger)
	dispatchGroup := api.Group("/dispatch", middleware.RequireRole(auth.RoleDriver, auth.RoleAdmin))
	dispatchGroup.GET("/rides", dispatchHandler.List)
	dispatchGroup.POST("/rides/:id/claim", middleware.RequireRole(auth.RoleDriver), dispatchHandler.Claim)
	dispatchGroup.POST("/rides/:id/decline", middleware.RequireRole(auth.RoleDriver), dispatchHandler.Decline)
	dispatchGroup.DELETE("/session", middleware.RequireRole(auth.RoleDriver), dispatchHandler.CloseSession)
	dispatchGroup.GET("/ws", middleware.RequireRole(auth.RoleDriver), dispatchHandler.Watch)

	driverHandler := handlers.NewDriverHandler(deps.Drivers)
	driverGroup := api.Group("/driver", middleware.RequireRole(auth.RoleDriver))
	driverGroup.POST("/register", driverHandler.Register)
	driverGroup.GET("/me", driverHandler.Me)
	driverGroup.PUT("/availability", driverHandler.SetAvailability)
	driverGroup.PUT("/location", driverHandler.ReportLocation)
	driverGroup.POST("/rides/:id/start", rideHandler.Start)
	driverGroup.POST("/rides/:id/complete", rideHandler.Complete)
	driverGroup.GET("/rides/active", rideHandler.ActiveForDriver)

	api.GET("/admin/drivers/nearby", middleware.RequireRole(auth.RoleAdmin), driverHandler.Nearby)

	return r
}
