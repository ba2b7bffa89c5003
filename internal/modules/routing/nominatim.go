package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ridecore/internal/types"
)

// NominatimGeocoder resolves free-text addresses through a Nominatim /search endpoint.
type NominatimGeocoder struct {
	Endpoint string
	// CountryCodes restricts matches, e.g. "gf,fr". Empty means worldwide.
	CountryCodes string
	// UserAgent is required by the public Nominatim usage policy.
	UserAgent string
	Client    *http.Client
}

func NewNominatimGeocoder(endpoint, countryCodes, userAgent string, timeout time.Duration) *NominatimGeocoder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NominatimGeocoder{
		Endpoint:     strings.TrimRight(endpoint, "/"),
		CountryCodes: countryCodes,
		UserAgent:    userAgent,
		Client:       &http.Client{Timeout: timeout},
	}
}

func (n *NominatimGeocoder) Geocode(ctx context.Context, address string) (types.Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return types.Point{}, ErrAddressNotFound
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("q", address)
	q.Set("limit", "1")
	if n.CountryCodes != "" {
		q.Set("countrycodes", n.CountryCodes)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.Endpoint+"/search?"+q.Encode(), nil)
	if err != nil {
		return types.Point{}, fmt.Errorf("%w: %v", ErrRoutingUnavailable, err)
	}
	if n.UserAgent != "" {
		req.Header.Set("User-Agent", n.UserAgent)
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return types.Point{}, fmt.Errorf("%w: %v", ErrRoutingUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.Point{}, fmt.Errorf("%w: nominatim status %d", ErrRoutingUnavailable, resp.StatusCode)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return types.Point{}, fmt.Errorf("%w: decode nominatim response: %v", ErrRoutingUnavailable, err)
	}
	if len(results) == 0 {
		return types.Point{}, ErrAddressNotFound
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return types.Point{}, fmt.Errorf("%w: malformed coordinates %q,%q", ErrRoutingUnavailable, results[0].Lat, results[0].Lon)
	}
	return types.Point{Lat: lat, Lng: lng}, nil
}
