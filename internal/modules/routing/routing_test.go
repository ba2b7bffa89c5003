package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ridecore/internal/types"
)

var (
	cayenne = types.Point{Lat: 4.9375, Lng: -52.3267}
	matoury = types.Point{Lat: 4.8500, Lng: -52.3400}
)

type stubPricer struct{}

func (stubPricer) Quote(class types.VehicleClass, km float64) (types.Money, error) {
	if !class.Valid() {
		return types.Money{}, errors.New("unknown class")
	}
	return types.MoneyFromMajor(2.5+km*1.2, "EUR"), nil
}

type stubProvider struct {
	route Route
	err   error
	calls int
}

func (s *stubProvider) Route(context.Context, types.Point, types.Point) (Route, error) {
	s.calls++
	return s.route, s.err
}

func TestOSRMProvider_Route(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		fmt.Fprint(w, `{"code":"Ok","routes":[{"distance":12345.6,"duration":1530,
			"geometry":{"type":"LineString","coordinates":[[-52.3267,4.9375],[-52.34,4.85]]}}]}`)
	}))
	defer srv.Close()

	p := NewOSRMProvider(srv.URL+"/", time.Second)
	r, err := p.Route(context.Background(), cayenne, matoury)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if gotPath != "/route/v1/driving/-52.326700,4.937500;-52.340000,4.850000" {
		t.Errorf("path = %s", gotPath)
	}
	if !strings.Contains(gotQuery, "overview=full") || !strings.Contains(gotQuery, "geometries=geojson") {
		t.Errorf("query = %s", gotQuery)
	}
	if r.DistanceMeters != 12345.6 || r.DurationSeconds != 1530 {
		t.Errorf("route = %+v", r)
	}
	if len(r.Geometry) != 2 || r.Geometry[0] != cayenne {
		t.Errorf("geometry should be converted to lat/lng: %+v", r.Geometry)
	}
}

func TestOSRMProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"no routes", http.StatusOK, `{"code":"Ok","routes":[]}`, ErrNoRouteFound},
		{"no route code", http.StatusBadRequest, `{"code":"NoRoute","message":"Impossible route"}`, ErrNoRouteFound},
		{"server error", http.StatusBadGateway, `upstream`, ErrRoutingUnavailable},
		{"garbage body", http.StatusOK, `not json`, ErrRoutingUnavailable},
		{"provider error code", http.StatusOK, `{"code":"InvalidQuery","routes":[]}`, ErrRoutingUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewOSRMProvider(srv.URL, time.Second).Route(context.Background(), cayenne, matoury)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOSRMProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	_, err := NewOSRMProvider(endpoint, time.Second).Route(context.Background(), cayenne, matoury)
	if !errors.Is(err, ErrRoutingUnavailable) {
		t.Fatalf("err = %v, want ErrRoutingUnavailable", err)
	}
}

func TestNominatimGeocoder(t *testing.T) {
	var gotQuery nominatimRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = nominatimRequest{path: r.URL.Path, q: r.URL.Query().Get("q"), limit: r.URL.Query().Get("limit"),
			countries: r.URL.Query().Get("countrycodes"), ua: r.Header.Get("User-Agent")}
		if r.URL.Query().Get("q") == "nowhere" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[{"lat":"4.9375","lon":"-52.3267","display_name":"Cayenne"},{"lat":"0","lon":"0"}]`)
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL, "gf", "ridecore-test", time.Second)
	p, err := g.Geocode(context.Background(), "Place des Palmistes, Cayenne")
	if err != nil {
		t.Fatalf("Geocode() error = %v", err)
	}
	if p != cayenne {
		t.Errorf("point = %+v, want first match", p)
	}
	if gotQuery.path != "/search" || gotQuery.limit != "1" || gotQuery.countries != "gf" || gotQuery.ua != "ridecore-test" {
		t.Errorf("request = %+v", gotQuery)
	}

	if _, err := g.Geocode(context.Background(), "nowhere"); !errors.Is(err, ErrAddressNotFound) {
		t.Errorf("zero matches: err = %v", err)
	}
	if _, err := g.Geocode(context.Background(), "   "); !errors.Is(err, ErrAddressNotFound) {
		t.Errorf("empty address: err = %v", err)
	}
}

type nominatimRequest struct {
	path, q, limit, countries, ua string
}

func TestNominatimGeocoder_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewNominatimGeocoder(srv.URL, "", "", time.Second).Geocode(context.Background(), "Cayenne")
	if !errors.Is(err, ErrRoutingUnavailable) {
		t.Fatalf("err = %v, want ErrRoutingUnavailable", err)
	}
}

func TestEstimator_EstimateRoute(t *testing.T) {
	provider := &stubProvider{route: Route{DistanceMeters: 9876.5, DurationSeconds: 929, Geometry: []types.Point{cayenne, matoury}}}
	e := NewEstimator(provider, nil, stubPricer{})

	est, err := e.EstimateRoute(context.Background(), cayenne, matoury, types.VehicleStandard)
	if err != nil {
		t.Fatalf("EstimateRoute() error = %v", err)
	}
	if est.DistanceKm != 9.88 {
		t.Errorf("distance = %v, want 9.88", est.DistanceKm)
	}
	if est.DurationMin != 15 {
		t.Errorf("duration = %v, want 15", est.DurationMin)
	}
	// 2.50 + 9.8765*1.20 = 14.3518; the rounded 9.88 km would give 14.36
	if est.Price.Amount != 1435 {
		t.Errorf("price = %v, want 1435", est.Price.Amount)
	}
	if len(est.Geometry) != 2 {
		t.Errorf("geometry = %v", est.Geometry)
	}
}

func TestEstimator_Errors(t *testing.T) {
	unavailable := &stubProvider{err: fmt.Errorf("%w: dial tcp", ErrRoutingUnavailable)}
	e := NewEstimator(unavailable, nil, stubPricer{})

	if _, err := e.EstimateRoute(context.Background(), cayenne, matoury, types.VehicleStandard); !errors.Is(err, ErrRoutingUnavailable) {
		t.Errorf("err = %v, want ErrRoutingUnavailable", err)
	}
	if _, err := e.EstimateRoute(context.Background(), types.Point{Lat: 91}, matoury, types.VehicleStandard); !errors.Is(err, ErrInvalidPoint) {
		t.Errorf("err = %v, want ErrInvalidPoint", err)
	}
	if _, err := e.Geocode(context.Background(), "x"); !errors.Is(err, ErrRoutingUnavailable) {
		t.Errorf("missing geocoder: err = %v", err)
	}

	noRoute := NewEstimator(&stubProvider{err: ErrNoRouteFound}, nil, stubPricer{}, WithFallback(StraightLineProvider{}))
	if _, err := noRoute.EstimateRoute(context.Background(), cayenne, matoury, types.VehicleStandard); !errors.Is(err, ErrNoRouteFound) {
		t.Errorf("fallback must not mask no-route: err = %v", err)
	}
}

func TestEstimator_Fallback(t *testing.T) {
	unavailable := &stubProvider{err: ErrRoutingUnavailable}
	e := NewEstimator(unavailable, nil, stubPricer{}, WithFallback(StraightLineProvider{KmPerHour: 60}))

	est, err := e.EstimateRoute(context.Background(), cayenne, matoury, types.VehicleStandard)
	if err != nil {
		t.Fatalf("EstimateRoute() error = %v", err)
	}
	if est.DistanceKm < 9.7 || est.DistanceKm > 9.95 {
		t.Errorf("straight-line distance = %v", est.DistanceKm)
	}
	if est.DurationMin != 10 {
		t.Errorf("duration at 60km/h = %v, want 10", est.DurationMin)
	}
	if unavailable.calls != 1 {
		t.Errorf("primary provider calls = %d", unavailable.calls)
	}
}
