package routing

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"ridecore/internal/types"
)

// GoogleProvider routes and geocodes through the Google Maps web services.
// It satisfies both RouteProvider and Geocoder.
type GoogleProvider struct {
	client *maps.Client
	region string
}

// NewGoogleProvider creates a provider with the given API key. Extra client
// options (e.g. maps.WithBaseURL) are appended after the key.
func NewGoogleProvider(apiKey, region string, opts ...maps.ClientOption) (*GoogleProvider, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleProvider{client: client, region: region}, nil
}

func (g *GoogleProvider) Route(ctx context.Context, from, to types.Point) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
		Region:      g.region,
	}

	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		if isZeroResults(err) {
			return Route{}, ErrNoRouteFound
		}
		return Route{}, fmt.Errorf("%w: maps api error: %v", ErrRoutingUnavailable, err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, ErrNoRouteFound
	}

	var out Route
	for _, leg := range routes[0].Legs {
		out.DistanceMeters += float64(leg.Distance.Meters)
		out.DurationSeconds += leg.Duration.Seconds()
	}
	if path, err := routes[0].OverviewPolyline.Decode(); err == nil {
		out.Geometry = make([]types.Point, 0, len(path))
		for _, p := range path {
			out.Geometry = append(out.Geometry, types.Point{Lat: p.Lat, Lng: p.Lng})
		}
	}
	return out, nil
}

func (g *GoogleProvider) Geocode(ctx context.Context, address string) (types.Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return types.Point{}, ErrAddressNotFound
	}
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address, Region: g.region})
	if err != nil {
		if isZeroResults(err) {
			return types.Point{}, ErrAddressNotFound
		}
		return types.Point{}, fmt.Errorf("%w: geocode api error: %v", ErrRoutingUnavailable, err)
	}
	if len(results) == 0 {
		return types.Point{}, ErrAddressNotFound
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

func isZeroResults(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "ZERO_RESULTS") || strings.Contains(msg, "NOT_FOUND")
}
