package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ridecore/internal/types"
)

// OSRMProvider performs route lookups against an OSRM HTTP server.
type OSRMProvider struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMProvider(endpoint string, timeout time.Duration) *OSRMProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OSRMProvider{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client:   &http.Client{Timeout: timeout},
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Route queries /route/v1/driving/{lng},{lat};{lng},{lat} with full GeoJSON geometry.
func (o *OSRMProvider) Route(ctx context.Context, from, to types.Point) (Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrRoutingUnavailable, err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrRoutingUnavailable, err)
	}
	defer resp.Body.Close()

	var out osrmResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	// OSRM answers NoRoute with a 400 and a JSON body.
	if decodeErr == nil && out.Code == "NoRoute" {
		return Route{}, ErrNoRouteFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Route{}, fmt.Errorf("%w: osrm status %d", ErrRoutingUnavailable, resp.StatusCode)
	}
	if decodeErr != nil {
		return Route{}, fmt.Errorf("%w: decode osrm response: %v", ErrRoutingUnavailable, decodeErr)
	}
	if out.Code != "Ok" {
		return Route{}, fmt.Errorf("%w: osrm code %s: %s", ErrRoutingUnavailable, out.Code, out.Message)
	}
	if len(out.Routes) == 0 {
		return Route{}, ErrNoRouteFound
	}

	r := out.Routes[0]
	geometry := make([]types.Point, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		// GeoJSON order is [lng, lat].
		geometry = append(geometry, types.Point{Lat: c[1], Lng: c[0]})
	}
	return Route{DistanceMeters: r.Distance, DurationSeconds: r.Duration, Geometry: geometry}, nil
}
