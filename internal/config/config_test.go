package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RIDECORE_FEED", "")
	t.Setenv("RIDECORE_AUTH_MODE", "")
	t.Setenv("RIDECORE_ROUTING_PROVIDER", "")
	t.Setenv("RIDECORE_FIREBASE_PROJECT_ID", "ridecore-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dispatch.RadiusKm != 15 {
		t.Errorf("radius = %v, want 15", cfg.Dispatch.RadiusKm)
	}
	if cfg.Dispatch.RideTTL != 0 {
		t.Errorf("ride TTL = %v, want disabled", cfg.Dispatch.RideTTL)
	}
	if cfg.Pricing.BaseFare != 2.50 || cfg.Pricing.MinimumFare != 5.00 || cfg.Pricing.Currency != "EUR" {
		t.Errorf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.Kafka.Topic != "ride-events" {
		t.Errorf("kafka topic = %q", cfg.Kafka.Topic)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RIDECORE_DISPATCH_RADIUS_KM", "7.5")
	t.Setenv("RIDECORE_RIDE_TTL", "120")
	t.Setenv("RIDECORE_ROUTING_TIMEOUT", "2s")
	t.Setenv("RIDECORE_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RIDECORE_AUTH_MODE", "jwt")
	t.Setenv("RIDECORE_JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dispatch.RadiusKm != 7.5 {
		t.Errorf("radius = %v", cfg.Dispatch.RadiusKm)
	}
	if cfg.Dispatch.RideTTL != 120*time.Second {
		t.Errorf("ride TTL = %v", cfg.Dispatch.RideTTL)
	}
	if cfg.Routing.Timeout != 2*time.Second {
		t.Errorf("routing timeout = %v", cfg.Routing.Timeout)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	t.Setenv("RIDECORE_FEED", "redis")
	t.Setenv("RIDECORE_REDIS_ADDR", "")
	t.Setenv("RIDECORE_AUTH_MODE", "jwt")
	t.Setenv("RIDECORE_JWT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"RIDECORE_REDIS_ADDR", "RIDECORE_JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_PushNeedsFirebaseProject(t *testing.T) {
	t.Setenv("RIDECORE_AUTH_MODE", "jwt")
	t.Setenv("RIDECORE_JWT_SECRET", "s3cret")
	t.Setenv("RIDECORE_PUSH_ENABLED", "true")
	t.Setenv("RIDECORE_FIREBASE_PROJECT_ID", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "RIDECORE_FIREBASE_PROJECT_ID") {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoad_GoogleRegion(t *testing.T) {
	t.Setenv("RIDECORE_AUTH_MODE", "jwt")
	t.Setenv("RIDECORE_JWT_SECRET", "s3cret")
	t.Setenv("RIDECORE_ROUTING_PROVIDER", "google")
	t.Setenv("RIDECORE_GOOGLE_MAPS_KEY", "key")
	t.Setenv("RIDECORE_GEOCODE_COUNTRIES", " GF, fr")
	t.Setenv("RIDECORE_GOOGLE_REGION", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Routing.GoogleRegion != "gf" {
		t.Errorf("region = %q, want first geocode country", cfg.Routing.GoogleRegion)
	}

	t.Setenv("RIDECORE_GOOGLE_REGION", "fr")
	if cfg, _ = Load(); cfg.Routing.GoogleRegion != "fr" {
		t.Errorf("region = %q, want explicit fr", cfg.Routing.GoogleRegion)
	}

	t.Setenv("RIDECORE_GOOGLE_REGION", "gf,fr")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "RIDECORE_GOOGLE_REGION") {
		t.Fatalf("Load() error = %v, want region validation", err)
	}
}
