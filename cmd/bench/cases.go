// README: Benchmark cases for the dispatch flow; includes HTTP, DB, Redis, claim race and throughput checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridecore/internal/infra"
	"ridecore/migrations"
)

// Pickup and destination used by every ride the bench creates.
var (
	benchPickup      = map[string]float64{"lat": 4.9372, "lng": -52.3260}
	benchDestination = map[string]float64{"lat": 4.9057, "lng": -52.2766}
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	redis  *redis.Client
	signer *infra.JWTVerifier
	runID  string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	r := &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		runID: uuid.NewString()[:8],
	}
	if cfg.JWTSecret != "" {
		r.signer = infra.NewJWTVerifier(cfg.JWTSecret)
	}
	return r
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "Apply embedded migrations",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				if err := migrations.Apply(ctx, r.db); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "Every table in the embedded migrations exists",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := migrations.Tables()
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: health",
			Focus: "API responds",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				status, err := r.do(ctx, http.MethodGet, "/health", "", nil, nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return expect(status, time.Since(start), http.StatusOK)
			},
		},
		{
			Name:  "API: missing token -> 401",
			Focus: "Auth middleware rejects anonymous calls",
			Run: func(ctx context.Context, r *Runner) Result {
				status, err := r.do(ctx, http.MethodGet, "/api/dispatch/rides", "", nil, nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return expect(status, 0, http.StatusUnauthorized)
			},
		},
		authed("Ride: invalid pickup -> 400", func(ctx context.Context, r *Runner) Result {
			rider := r.token(r.uid("rider-invalid"), "rider")
			status, err := r.do(ctx, http.MethodPost, "/api/rides", rider, map[string]any{
				"pickup":        map[string]float64{"lat": 123, "lng": 456},
				"destination":   benchDestination,
				"vehicle_class": "standard",
			}, nil)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return expect(status, 0, http.StatusBadRequest)
		}),
		authed("Flow: request, claim, start, complete", lifecycle),
		authed("Dispatch: decline hides ride for that driver only", declineFlow),
		authed("Dispatch: claim without profile -> 412", func(ctx context.Context, r *Runner) Result {
			rideID, res := r.createRide(ctx, r.uid("rider-noprofile"))
			if rideID == "" {
				return res
			}
			driver := r.token(r.uid("driver-noprofile"), "driver")
			status, err := r.do(ctx, http.MethodPost, "/api/dispatch/rides/"+rideID+"/claim", driver, nil, nil)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return expect(status, 0, http.StatusPreconditionFailed)
		}),
		authed("Concurrency: many drivers claim one ride", concurrentClaim),
		authed("Perf: driver location throughput", func(ctx context.Context, r *Runner) Result {
			id := r.uid("driver-perf")
			tok := r.token(id, "driver")
			if res, ok := r.readyDriver(ctx, tok); !ok {
				return res
			}
			return perfLoad(ctx, r, http.MethodPut, "/api/driver/location", tok, benchPickup)
		}),
		authed("Perf: open request listing throughput", func(ctx context.Context, r *Runner) Result {
			id := r.uid("driver-list")
			tok := r.token(id, "driver")
			if res, ok := r.readyDriver(ctx, tok); !ok {
				return res
			}
			return perfLoad(ctx, r, http.MethodGet, "/api/dispatch/rides", tok, nil)
		}),
	}
}

// authed skips cases that need tokens when no signing secret is configured.
func authed(name string, run func(ctx context.Context, r *Runner) Result) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.signer == nil {
				return Result{Status: "SKIP", Note: "jwt-secret not set"}
			}
			return run(ctx, r)
		},
	}
}

func lifecycle(ctx context.Context, r *Runner) Result {
	start := time.Now()
	rideID, res := r.createRide(ctx, r.uid("rider-flow"))
	if rideID == "" {
		return res
	}
	driver := r.token(r.uid("driver-flow"), "driver")
	if res, ok := r.readyDriver(ctx, driver); !ok {
		return res
	}

	steps := []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodPost, "/api/dispatch/rides/" + rideID + "/claim", nil, http.StatusOK},
		{http.MethodPost, "/api/dispatch/rides/" + rideID + "/claim", nil, http.StatusConflict},
		{http.MethodPost, "/api/driver/rides/" + rideID + "/start", nil, http.StatusOK},
		{http.MethodPost, "/api/driver/rides/" + rideID + "/complete", map[string]any{}, http.StatusOK},
		{http.MethodPost, "/api/rides/" + rideID + "/cancel", map[string]any{"reason": "late"}, http.StatusConflict},
	}
	for _, s := range steps {
		status, err := r.do(ctx, s.method, s.path, driver, s.body, nil)
		if err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
		if status != s.want {
			return Result{Status: "FAIL", Note: fmt.Sprintf("%s %s status=%d want=%d", s.method, s.path, status, s.want)}
		}
	}
	return Result{Status: "PASS", Latency: time.Since(start)}
}

func declineFlow(ctx context.Context, r *Runner) Result {
	rideID, res := r.createRide(ctx, r.uid("rider-decline"))
	if rideID == "" {
		return res
	}
	first := r.token(r.uid("driver-decline-a"), "driver")
	second := r.token(r.uid("driver-decline-b"), "driver")
	for _, tok := range []string{first, second} {
		if res, ok := r.readyDriver(ctx, tok); !ok {
			return res
		}
	}

	status, err := r.do(ctx, http.MethodPost, "/api/dispatch/rides/"+rideID+"/decline", first, nil, nil)
	if err != nil || status != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("decline status=%d err=%v", status, err)}
	}
	defer r.do(ctx, http.MethodDelete, "/api/dispatch/session", first, nil, nil)

	if listed, err := r.listed(ctx, first, rideID); err != nil || listed {
		return Result{Status: "FAIL", Note: fmt.Sprintf("declining driver still sees ride (err=%v)", err)}
	}
	if listed, err := r.listed(ctx, second, rideID); err != nil || !listed {
		return Result{Status: "FAIL", Note: fmt.Sprintf("other driver lost the ride (err=%v)", err)}
	}
	return Result{Status: "PASS"}
}

func concurrentClaim(ctx context.Context, r *Runner) Result {
	rideID, res := r.createRide(ctx, r.uid("rider-race"))
	if rideID == "" {
		return res
	}
	tokens := make([]string, r.cfg.Concurrency)
	for i := range tokens {
		tokens[i] = r.token(r.uid(fmt.Sprintf("driver-race-%d", i)), "driver")
		if res, ok := r.readyDriver(ctx, tokens[i]); !ok {
			return res
		}
	}

	var succ, conflict, other int32
	var wg sync.WaitGroup
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			status, err := r.do(ctx, http.MethodPost, "/api/dispatch/rides/"+rideID+"/claim", tok, nil, nil)
			switch {
			case err != nil:
				atomic.AddInt32(&other, 1)
			case status == http.StatusOK:
				atomic.AddInt32(&succ, 1)
			case status == http.StatusConflict:
				atomic.AddInt32(&conflict, 1)
			default:
				atomic.AddInt32(&other, 1)
			}
		}(tok)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%d", succ, conflict, other)
	if succ == 1 && other == 0 {
		return Result{Status: "PASS", Note: note}
	}
	return Result{Status: "FAIL", Note: note}
}

func perfLoad(ctx context.Context, r *Runner, method, path, token string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, err := r.do(ctx, method, path, token, payload, nil)
				if err != nil || status >= 400 {
					atomic.AddInt64(&errCount, 1)
					continue
				}
				atomic.AddInt64(&count, 1)
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("no requests completed, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func (r *Runner) uid(name string) string {
	return "bench-" + r.runID + "-" + name
}

func (r *Runner) token(uid, role string) string {
	tok, _ := r.signer.Sign(uid, role, time.Hour)
	return tok
}

func (r *Runner) createRide(ctx context.Context, riderID string) (string, Result) {
	var created struct {
		ID string `json:"id"`
	}
	status, err := r.do(ctx, http.MethodPost, "/api/rides", r.token(riderID, "rider"), map[string]any{
		"pickup":        benchPickup,
		"destination":   benchDestination,
		"vehicle_class": "standard",
	}, &created)
	if err != nil {
		return "", Result{Status: "FAIL", Note: err.Error()}
	}
	if status != http.StatusCreated || created.ID == "" {
		return "", Result{Status: "FAIL", Note: fmt.Sprintf("create ride status=%d", status)}
	}
	return created.ID, Result{}
}

// readyDriver registers the caller and marks them available at the bench pickup.
func (r *Runner) readyDriver(ctx context.Context, token string) (Result, bool) {
	status, err := r.do(ctx, http.MethodPost, "/api/driver/register", token, nil, nil)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}, false
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return Result{Status: "FAIL", Note: fmt.Sprintf("register status=%d", status)}, false
	}
	status, err = r.do(ctx, http.MethodPut, "/api/driver/availability", token, map[string]any{
		"availability": "available",
		"location":     benchPickup,
	}, nil)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}, false
	}
	if status != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("availability status=%d", status)}, false
	}
	return Result{}, true
}

func (r *Runner) listed(ctx context.Context, token, rideID string) (bool, error) {
	var body struct {
		Rides []struct {
			ID string `json:"id"`
		} `json:"rides"`
	}
	status, err := r.do(ctx, http.MethodGet, "/api/dispatch/rides", token, nil, &body)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("list status=%d", status)
	}
	for _, ride := range body.Rides {
		if ride.ID == rideID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Runner) do(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func expect(status int, latency time.Duration, want int) Result {
	note := fmt.Sprintf("status=%d", status)
	if status == want {
		return Result{Status: "PASS", Latency: latency, Note: note}
	}
	return Result{Status: "FAIL", Latency: latency, Note: note + fmt.Sprintf(" want=%d", want)}
}
