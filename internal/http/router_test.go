package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	ridehttp "ridecore/internal/http"
	"ridecore/internal/infra"
	"ridecore/internal/modules/availability"
	"ridecore/internal/modules/dispatch"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/modules/ride"
	"ridecore/internal/modules/routing"
	"ridecore/internal/types"
)

// tokenVerifier accepts tokens of the form "role:uid".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.VerifiedToken, error) {
	role, uid, ok := strings.Cut(raw, ":")
	if !ok || uid == "" {
		return nil, errors.New("bad token")
	}
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &infra.VerifiedToken{UID: uid, Claims: claims}, nil
}

type stubGeocoder map[string]types.Point

func (g stubGeocoder) Geocode(_ context.Context, q string) (types.Point, error) {
	if p, ok := g[q]; ok {
		return p, nil
	}
	return types.Point{}, routing.ErrAddressNotFound
}

type downProvider struct{}

func (downProvider) Route(context.Context, types.Point, types.Point) (routing.Route, error) {
	return routing.Route{}, fmt.Errorf("%w: connection refused", routing.ErrRoutingUnavailable)
}

var (
	cayenne = types.Point{Lat: 4.9375, Lng: -52.3267}
	matoury = types.Point{Lat: 4.8500, Lng: -52.3400}
)

type env struct {
	router  *gin.Engine
	broker  *dispatch.Broker
	dispatch *dispatch.Service
}

func newEnv(t *testing.T, provider routing.RouteProvider) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	prices := pricing.NewService(nil, pricing.DefaultPolicy(), nil)
	estimator := routing.NewEstimator(provider, stubGeocoder{"Matoury": matoury}, prices)
	broker := dispatch.NewBroker()
	drivers := availability.NewService(availability.NewMemoryStore(), nil, nil)
	rides := ride.NewService(ride.NewMemoryStore(), estimator,
		ride.WithDriverReleaser(drivers),
		ride.WithNotifier(broker))
	disp := dispatch.NewService(rides, drivers, broker, 15, nil)
	t.Cleanup(disp.Shutdown)

	return &env{
		router: ridehttp.NewRouter(ridehttp.RouterDeps{
			Rides:     rides,
			Dispatch:  disp,
			Drivers:   drivers,
			Estimator: estimator,
			Verifier:  tokenVerifier{},
		}),
		broker:   broker,
		dispatch: disp,
	}
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type rideBody struct {
	ID             string       `json:"id"`
	Status         string       `json:"status"`
	DriverID       *string      `json:"driver_id"`
	EstimatedPrice types.Money  `json:"estimated_price"`
	FinalPrice     *types.Money `json:"final_price"`
	Pickup         struct {
		Point   types.Point `json:"point"`
		Address string      `json:"address"`
	} `json:"pickup"`
	Destination struct {
		Point types.Point `json:"point"`
	} `json:"destination"`
}

type snapshotBody struct {
	Rides    []rideBody `json:"rides"`
	Degraded bool       `json:"degraded"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func createRideBody() map[string]any {
	return map[string]any{
		"pickup":        map[string]any{"lat": cayenne.Lat, "lng": cayenne.Lng, "address": "Cayenne"},
		"destination":   map[string]any{"lat": matoury.Lat, "lng": matoury.Lng, "address": "Matoury"},
		"vehicle_class": "standard",
	}
}

func (e *env) onlineDriver(t *testing.T, token string, at *types.Point) {
	t.Helper()
	if w := e.do(t, http.MethodPost, "/api/driver/register", token, nil); w.Code != http.StatusOK {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	body := map[string]any{"availability": "available"}
	if at != nil {
		body["location"] = at
	}
	if w := e.do(t, http.MethodPut, "/api/driver/availability", token, body); w.Code != http.StatusOK {
		t.Fatalf("go online: %d %s", w.Code, w.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})
	if w := e.do(t, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("health: %d %q", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK ||
		!strings.Contains(w.Body.String(), "ridecore_http_requests_total") {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestCreateRide_Auth(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})
	if w := e.do(t, http.MethodPost, "/api/rides", "", createRideBody()); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/rides", "driver:d1", createRideBody()); w.Code != http.StatusForbidden {
		t.Errorf("driver: expected 403, got %d", w.Code)
	}
}

func TestCreateRide_Validation(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})

	body := createRideBody()
	body["vehicle_class"] = "limo"
	if w := e.do(t, http.MethodPost, "/api/rides", ":r1", body); w.Code != http.StatusBadRequest {
		t.Errorf("bad class: expected 400, got %d", w.Code)
	}

	body = createRideBody()
	body["pickup"] = map[string]any{}
	if w := e.do(t, http.MethodPost, "/api/rides", ":r1", body); w.Code != http.StatusBadRequest {
		t.Errorf("empty pickup: expected 400, got %d", w.Code)
	}

	body = createRideBody()
	body["destination"] = map[string]any{"address": "Atlantis"}
	if w := e.do(t, http.MethodPost, "/api/rides", ":r1", body); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown address: expected 422, got %d", w.Code)
	}
}

func TestCreateRide_GeocodesAddress(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})
	body := createRideBody()
	body["destination"] = map[string]any{"address": "Matoury"}

	w := e.do(t, http.MethodPost, "/api/rides", ":r1", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	r := decode[rideBody](t, w)
	if r.Destination.Point != matoury {
		t.Fatalf("destination = %+v", r.Destination.Point)
	}

	if w := e.do(t, http.MethodPost, "/api/rides", ":r1", createRideBody()); w.Code != http.StatusConflict {
		t.Fatalf("second active ride: expected 409, got %d", w.Code)
	}
}

func TestRoutingUnavailable(t *testing.T) {
	e := newEnv(t, downProvider{})
	if w := e.do(t, http.MethodPost, "/api/rides", ":r1", createRideBody()); w.Code != http.StatusBadGateway {
		t.Fatalf("create: expected 502, got %d", w.Code)
	}
	w := e.do(t, http.MethodPost, "/api/routes/estimate", ":r1", map[string]any{
		"pickup": cayenne, "destination": matoury, "vehicle_class": "standard",
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("estimate: expected 502, got %d", w.Code)
	}
}

func TestEstimateAndGeocode(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})
	w := e.do(t, http.MethodPost, "/api/routes/estimate", ":r1", map[string]any{
		"pickup": cayenne, "destination": matoury, "vehicle_class": "luxury",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("estimate: %d %s", w.Code, w.Body.String())
	}
	est := decode[routing.RouteEstimate](t, w)
	if est.DistanceKm <= 0 || est.Price.Amount < pricing.DefaultPolicy().MinimumFare {
		t.Fatalf("estimate = %+v", est)
	}

	if w := e.do(t, http.MethodGet, "/api/geocode?q=Matoury", ":r1", nil); w.Code != http.StatusOK {
		t.Fatalf("geocode: %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/geocode?q=Atlantis", ":r1", nil); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("geocode miss: expected 422, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/geocode", ":r1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("geocode empty: expected 400, got %d", w.Code)
	}
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})
	loc := cayenne
	e.onlineDriver(t, "driver:da", &loc)
	e.onlineDriver(t, "driver:db", &loc)

	w := e.do(t, http.MethodPost, "/api/rides", ":r1", createRideBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	created := decode[rideBody](t, w)

	list := decode[snapshotBody](t, e.do(t, http.MethodGet, "/api/dispatch/rides", "driver:da", nil))
	if len(list.Rides) != 1 || list.Rides[0].ID != created.ID || list.Degraded {
		t.Fatalf("candidates = %+v", list)
	}

	w = e.do(t, http.MethodPost, "/api/dispatch/rides/"+created.ID+"/claim", "driver:da", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("claim: %d %s", w.Code, w.Body.String())
	}
	if got := decode[rideBody](t, w); got.Status != "accepted" || got.DriverID == nil || *got.DriverID != "da" {
		t.Fatalf("claimed = %+v", got)
	}
	if w := e.do(t, http.MethodPost, "/api/dispatch/rides/"+created.ID+"/claim", "driver:db", nil); w.Code != http.StatusConflict {
		t.Fatalf("second claim: expected 409, got %d", w.Code)
	}

	if w := e.do(t, http.MethodPost, "/api/driver/rides/"+created.ID+"/start", "driver:db", nil); w.Code != http.StatusForbidden {
		t.Fatalf("start by other driver: expected 403, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/driver/rides/"+created.ID+"/start", "driver:da", nil); w.Code != http.StatusOK {
		t.Fatalf("start: %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPost, "/api/rides/"+created.ID+"/cancel", ":r1", nil); w.Code != http.StatusConflict {
		t.Fatalf("cancel in progress: expected 409, got %d", w.Code)
	}
	w = e.do(t, http.MethodPost, "/api/driver/rides/"+created.ID+"/complete", "driver:da", map[string]any{"final_price": 15.5})
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}
	done := decode[rideBody](t, w)
	if done.Status != "completed" || done.FinalPrice == nil || done.FinalPrice.Amount != 1550 || done.FinalPrice.Currency != "EUR" {
		t.Fatalf("completed = %+v", done)
	}

	if w := e.do(t, http.MethodGet, "/api/rides/"+created.ID, ":r1", nil); w.Code != http.StatusOK {
		t.Fatalf("rider get: %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/rides/"+created.ID, ":r2", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger get: expected 403, got %d", w.Code)
	}
	events := decode[struct {
		Events []struct {
			ToStatus string `json:"to_status"`
		} `json:"events"`
	}](t, e.do(t, http.MethodGet, "/api/rides/"+created.ID+"/events", "admin:ops", nil))
	if len(events.Events) != 4 {
		t.Fatalf("events = %+v", events)
	}

	active := decode[map[string]any](t, e.do(t, http.MethodGet, "/api/driver/rides/active", "driver:da", nil))
	if active["ride"] != nil {
		t.Fatalf("driver still has active ride: %+v", active)
	}
}

func TestClaim_DriverErrors(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})
	created := decode[rideBody](t, e.do(t, http.MethodPost, "/api/rides", ":r1", createRideBody()))
	path := "/api/dispatch/rides/" + created.ID + "/claim"

	if w := e.do(t, http.MethodPost, path, "driver:nobody", nil); w.Code != http.StatusPreconditionFailed ||
		!strings.Contains(w.Body.String(), "complete your driver profile") {
		t.Fatalf("no profile: %d %s", w.Code, w.Body.String())
	}
	_ = e.do(t, http.MethodPost, "/api/driver/register", "driver:off", nil)
	if w := e.do(t, http.MethodPost, path, "driver:off", nil); w.Code != http.StatusConflict ||
		!strings.Contains(w.Body.String(), "go online first") {
		t.Fatalf("offline: %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPost, "/api/dispatch/rides/not-a-uuid/claim", "driver:off", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", w.Code)
	}
	e.onlineDriver(t, "driver:on", nil)
	if w := e.do(t, http.MethodPost, "/api/dispatch/rides/0b6f3b8e-3f51-4a43-9d3e-0d5f7f3b2a10/claim", "driver:on", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing ride: expected 404, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, path, ":r1", nil); w.Code != http.StatusForbidden {
		t.Fatalf("rider claim: expected 403, got %d", w.Code)
	}
}

func TestAvailability_Errors(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})
	if w := e.do(t, http.MethodPut, "/api/driver/availability", "driver:ghost", map[string]any{"availability": "available"}); w.Code != http.StatusPreconditionFailed {
		t.Fatalf("unregistered: expected 412, got %d", w.Code)
	}
	_ = e.do(t, http.MethodPost, "/api/driver/register", "driver:d1", nil)
	if w := e.do(t, http.MethodPut, "/api/driver/availability", "driver:d1", map[string]any{"availability": "busy"}); w.Code != http.StatusBadRequest {
		t.Fatalf("direct busy: expected 400, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPut, "/api/driver/location", "driver:d1", map[string]any{"lat": 95, "lng": 0}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid location: expected 400, got %d", w.Code)
	}
	w := e.do(t, http.MethodGet, "/api/driver/me", "driver:d1", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"availability":"offline"`) {
		t.Fatalf("me: %d %s", w.Code, w.Body.String())
	}
}

func TestDispatchList_DeclineAndDegraded(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})
	e.onlineDriver(t, "driver:da", nil)
	created := decode[rideBody](t, e.do(t, http.MethodPost, "/api/rides", ":r1", createRideBody()))

	list := decode[snapshotBody](t, e.do(t, http.MethodGet, "/api/dispatch/rides", "driver:da", nil))
	if !list.Degraded || len(list.Rides) != 1 {
		t.Fatalf("degraded listing = %+v", list)
	}

	for i := 0; i < 2; i++ {
		if w := e.do(t, http.MethodPost, "/api/dispatch/rides/"+created.ID+"/decline", "driver:da", nil); w.Code != http.StatusOK {
			t.Fatalf("decline #%d: %d", i+1, w.Code)
		}
	}
	list = decode[snapshotBody](t, e.do(t, http.MethodGet, "/api/dispatch/rides", "driver:da", nil))
	if len(list.Rides) != 0 {
		t.Fatalf("declined ride still listed: %+v", list)
	}
	list = decode[snapshotBody](t, e.do(t, http.MethodGet,
		fmt.Sprintf("/api/dispatch/rides?lat=%v&lng=%v", cayenne.Lat, cayenne.Lng), "driver:da", nil))
	if len(list.Rides) != 0 {
		t.Fatalf("declined ride listed with explicit location: %+v", list)
	}

	admin := decode[snapshotBody](t, e.do(t, http.MethodGet, "/api/dispatch/rides", "admin:ops", nil))
	if len(admin.Rides) != 1 {
		t.Fatalf("admin listing = %+v", admin)
	}
	far := decode[snapshotBody](t, e.do(t, http.MethodGet, "/api/dispatch/rides?lat=5.16&lng=-52.65&radius_km=5", "admin:ops", nil))
	if len(far.Rides) != 0 {
		t.Fatalf("radius filter ignored: %+v", far)
	}
	if w := e.do(t, http.MethodGet, "/api/dispatch/rides?lat=abc&lng=1", "admin:ops", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad lat: expected 400, got %d", w.Code)
	}

	if w := e.do(t, http.MethodDelete, "/api/dispatch/session", "driver:da", nil); w.Code != http.StatusNoContent {
		t.Fatalf("close session: %d", w.Code)
	}
	list = decode[snapshotBody](t, e.do(t, http.MethodGet, "/api/dispatch/rides", "driver:da", nil))
	if len(list.Rides) != 1 {
		t.Fatalf("declines should reset with the session: %+v", list)
	}
}

func TestDispatchSocket(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})
	loc := cayenne
	e.onlineDriver(t, "driver:da", &loc)

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/dispatch/ws?access_token=driver:da"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	type message struct {
		Type     string       `json:"type"`
		Snapshot snapshotBody `json:"snapshot"`
	}
	read := func() message {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		return m
	}

	if m := read(); m.Type != "candidates" || len(m.Snapshot.Rides) != 0 {
		t.Fatalf("initial = %+v", m)
	}

	created := decode[rideBody](t, e.do(t, http.MethodPost, "/api/rides", ":r1", createRideBody()))
	m := read()
	for len(m.Snapshot.Rides) == 0 {
		m = read()
	}
	if m.Snapshot.Rides[0].ID != created.ID {
		t.Fatalf("pushed = %+v", m)
	}

	if err := conn.WriteJSON(map[string]string{"type": "decline", "ride_id": created.ID}); err != nil {
		t.Fatalf("write decline: %v", err)
	}
	m = read()
	for len(m.Snapshot.Rides) != 0 {
		m = read()
	}

	e.dispatch.CloseSession("da")
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal close, got %v", err)
			}
			break
		}
	}
}

func TestDispatchSocket_RequiresProfile(t *testing.T) {
	e := newEnv(t, routing.StraightLineProvider{})
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/dispatch/ws?access_token=driver:ghost"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("response = %+v", resp)
	}
}
