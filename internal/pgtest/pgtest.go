// Package pgtest opens a migrated PostgreSQL pool for DB-backed tests.
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/migrations"
)

const dsnEnv = "RIDECORE_TEST_DSN"

// Pool connects to RIDECORE_TEST_DSN, applies migrations and empties every
// table. The test is skipped when the variable is unset.
func Pool(t testing.TB) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skip(dsnEnv + " not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE ride_events, rides, drivers, pricing_rates"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}
