package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Geocoder resolves a free-text location query to a point.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Point, bool, error)
}

// HTTPGeocoder calls an external geocoding HTTP API. The endpoint is
// expected to answer GET {base}?q={query} with
// {"results":[{"lat":..,"lng":..}]}; an empty results array means the
// query did not resolve.
type HTTPGeocoder struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPGeocoder constructs a geocoder client. The api key is optional
// and sent as the api_key query parameter when set.
func NewHTTPGeocoder(baseURL, apiKey string) *HTTPGeocoder {
	return &HTTPGeocoder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type geocodeResponse struct {
	Results []struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"results"`
}

// Geocode resolves one query. found=false means the provider answered
// but had no match.
func (g *HTTPGeocoder) Geocode(ctx context.Context, query string) (Point, bool, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Point{}, false, nil
	}
	params := url.Values{}
	params.Set("q", query)
	if g.apiKey != "" {
		params.Set("api_key", g.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Point{}, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Point{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Point{}, false, fmt.Errorf("geocoder returned %s", resp.Status)
	}

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Point{}, false, fmt.Errorf("decode geocoder response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return Point{}, false, nil
	}
	first := decoded.Results[0]
	return Point{Lat: first.Lat, Lng: first.Lng}, true, nil
}
