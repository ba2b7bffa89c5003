// README: Entry point; loads config, wires services, starts HTTP server and background loops.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridecore/internal/config"
	"ridecore/internal/events"
	httptransport "ridecore/internal/http"
	"ridecore/internal/infra"
	"ridecore/internal/logging"
	"ridecore/internal/modules/availability"
	"ridecore/internal/modules/dispatch"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/modules/ride"
	"ridecore/internal/modules/routing"
	"ridecore/internal/types"
	"ridecore/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ridecore stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var app *firebase.App
	if cfg.Auth.Mode == "firebase" || cfg.Auth.PushEnabled {
		var err error
		app, err = infra.NewFirebaseApp(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredentials)
		if err != nil {
			return fmt.Errorf("firebase init: %w", err)
		}
	}
	verifier, err := newVerifier(ctx, cfg.Auth, app)
	if err != nil {
		return err
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()
	if err := migrations.Apply(ctx, dbPool); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	pricingSvc := pricing.NewService(pricing.NewStore(dbPool), pricingPolicy(cfg.Pricing), logger)
	if err := pricingSvc.Refresh(ctx); err != nil {
		logger.Warn("using configured pricing rates", zap.Error(err))
	}

	estimator, err := newEstimator(cfg.Routing, pricingSvc, logger)
	if err != nil {
		return err
	}

	var geoIndex availability.GeoIndex
	if redisClient != nil {
		geoIndex = availability.NewRedisGeoIndex(redisClient)
	}
	driverSvc := availability.NewService(availability.NewPGStore(dbPool), geoIndex, logger)

	feed, notifier := newFeed(cfg.Feed, dbPool, redisClient, logger)

	rideOpts := []ride.Option{
		ride.WithDriverReleaser(driverSvc),
		ride.WithNotifier(notifier),
		ride.WithLogger(logger),
	}
	var publishers events.Fanout
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer kp.Close()
		publishers = append(publishers, kp)
	}
	if cfg.Auth.PushEnabled {
		msg, err := infra.NewFirebaseMessaging(ctx, app)
		if err != nil {
			return err
		}
		publishers = append(publishers, events.NewPushPublisher(msg, logger))
	}
	if len(publishers) > 0 {
		rideOpts = append(rideOpts, ride.WithEventPublisher(publishers))
	}
	rideSvc := ride.NewService(ride.NewPGStore(dbPool), estimator, rideOpts...)

	dispatchSvc := dispatch.NewService(rideSvc, driverSvc, feed, cfg.Dispatch.RadiusKm, logger)
	defer dispatchSvc.Shutdown()

	go rideSvc.RunExpiryLoop(ctx, cfg.Dispatch.RideTTL, cfg.Dispatch.ExpiryInterval)

	server := httptransport.NewServer(cfg.HTTP.Addr, httptransport.RouterDeps{
		Rides:     rideSvc,
		Dispatch:  dispatchSvc,
		Drivers:   driverSvc,
		Estimator: estimator,
		Verifier:  verifier,
		Logger:    logger,
	})
	return server.Run(ctx, 15*time.Second)
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, app *firebase.App) (infra.TokenVerifier, error) {
	if cfg.Mode == "jwt" {
		return infra.NewJWTVerifier(cfg.JWTSecret), nil
	}
	return infra.NewFirebaseVerifier(ctx, app)
}

func pricingPolicy(cfg config.PricingConfig) pricing.Policy {
	p := pricing.DefaultPolicy()
	p.BaseFare = types.MoneyFromMajor(cfg.BaseFare, cfg.Currency).Amount
	p.MinimumFare = types.MoneyFromMajor(cfg.MinimumFare, cfg.Currency).Amount
	p.Currency = cfg.Currency
	return p
}

func newEstimator(cfg config.RoutingConfig, prices *pricing.Service, logger *zap.Logger) (*routing.Estimator, error) {
	var (
		provider routing.RouteProvider
		geocoder routing.Geocoder
	)
	switch cfg.Provider {
	case "google":
		g, err := routing.NewGoogleProvider(cfg.GoogleMapsKey, cfg.GoogleRegion)
		if err != nil {
			return nil, fmt.Errorf("google maps client: %w", err)
		}
		provider, geocoder = g, g
	default:
		provider = routing.NewOSRMProvider(cfg.OSRMURL, cfg.Timeout)
		geocoder = routing.NewNominatimGeocoder(cfg.NominatimURL, cfg.CountryCodes, cfg.UserAgent, cfg.Timeout)
	}

	opts := []routing.Option{routing.WithLogger(logger), routing.WithProviderName(cfg.Provider)}
	if cfg.Fallback {
		opts = append(opts, routing.WithFallback(routing.StraightLineProvider{KmPerHour: cfg.FallbackKmPerH}))
	}
	return routing.NewEstimator(provider, geocoder, prices, opts...), nil
}

// newFeed picks the live update backend. The returned notifier is what the
// ride service calls after each committed change.
func newFeed(kind string, pool *pgxpool.Pool, client *redis.Client, logger *zap.Logger) (dispatch.Feed, ride.ChangeNotifier) {
	switch kind {
	case "redis":
		f := dispatch.NewRedisFeed(client, logger)
		return f, f
	case "memory":
		b := dispatch.NewBroker()
		return b, b
	default:
		f := dispatch.NewPGFeed(pool, logger)
		return f, f
	}
}
