// Package observability holds the Prometheus collectors exported on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridecore_claims_total",
		Help: "Ride claim attempts by outcome.",
	}, []string{"outcome"})

	RideTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridecore_ride_transitions_total",
		Help: "Successful ride status transitions by target status.",
	}, []string{"to"})

	OpenRequestsListDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ridecore_open_requests_list_seconds",
		Help:    "Latency of listing open ride requests.",
		Buckets: prometheus.DefBuckets,
	})

	FeedNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridecore_feed_notifications_total",
		Help: "Ride change notifications received by feed backend.",
	}, []string{"backend"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ridecore_dispatch_sessions",
		Help: "Open driver dispatch sessions.",
	})

	RoutingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridecore_routing_requests_total",
		Help: "Routing and geocoding provider calls by provider and result.",
	}, []string{"provider", "result"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridecore_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ridecore_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
