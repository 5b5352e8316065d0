package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/UnknownOlympus/atlas-batch/internal/models"
	"golang.org/x/time/rate"
)

const (
	// MapsCoBaseURL is the search endpoint of geocode.maps.co.
	MapsCoBaseURL = "https://geocode.maps.co/search"
	// NominatimBaseURL is the public OpenStreetMap Nominatim search endpoint.
	NominatimBaseURL = "https://nominatim.openstreetmap.org/search"

	userAgent      = "Atlas-Batch-Geocoder/1.0 (https://github.com/UnknownOlympus/atlas-batch)"
	defaultTimeout = 10 * time.Second
)

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SearchProvider implements the Provider interface for Nominatim-style search APIs,
// which answer a free-text query with a JSON array of candidate places.
type SearchProvider struct {
	name     string        // Provider name used in errors and logs
	client   HTTPClient    // HTTP client for making requests
	baseURL  string        // Search endpoint
	apiKey   string        // API key, may be empty
	keyParam string        // Query parameter carrying the API key
	params   url.Values    // Fixed query parameters sent with every request
	limiter  *rate.Limiter // Optional client-side rate limiter
	log      *slog.Logger
}

// SearchOption customizes a SearchProvider.
type SearchOption func(*SearchProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client HTTPClient) SearchOption {
	return func(sp *SearchProvider) { sp.client = client }
}

// WithBaseURL overrides the search endpoint.
func WithBaseURL(baseURL string) SearchOption {
	return func(sp *SearchProvider) {
		if baseURL != "" {
			sp.baseURL = baseURL
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond int) SearchOption {
	return func(sp *SearchProvider) {
		if perSecond > 0 {
			sp.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) SearchOption {
	return func(sp *SearchProvider) {
		if hc, ok := sp.client.(*http.Client); ok && timeout > 0 {
			hc.Timeout = timeout
		}
	}
}

// NewMapsCoProvider creates a provider for geocode.maps.co, which requires an API key.
func NewMapsCoProvider(apiKey string, log *slog.Logger, opts ...SearchOption) *SearchProvider {
	return newSearchProvider("maps.co", MapsCoBaseURL, apiKey, "api_key", nil, log, opts...)
}

// NewNominatimProvider creates a provider for the public Nominatim API.
// Nominatim is free and doesn't require an API key, but allows 1 request/second for fair use.
func NewNominatimProvider(log *slog.Logger, opts ...SearchOption) *SearchProvider {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("limit", "1")

	return newSearchProvider("nominatim", NominatimBaseURL, "", "", params, log, opts...)
}

func newSearchProvider(
	name, baseURL, apiKey, keyParam string,
	params url.Values,
	log *slog.Logger,
	opts ...SearchOption,
) *SearchProvider {
	sp := &SearchProvider{
		name:     name,
		client:   &http.Client{Timeout: defaultTimeout},
		baseURL:  baseURL,
		apiKey:   apiKey,
		keyParam: keyParam,
		params:   params,
		log:      log,
	}
	for _, opt := range opts {
		opt(sp)
	}

	return sp
}

// searchResult is a single element of the search response.
// Latitude and longitude arrive as strings on Nominatim and maps.co, but numbers are accepted too.
type searchResult struct {
	Lat json.RawMessage `json:"lat"`
	Lon json.RawMessage `json:"lon"`
}

// Geocode converts an address to geographic coordinates with a single search request.
func (sp *SearchProvider) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	if sp.limiter != nil {
		if err := sp.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	sp.log.DebugContext(ctx, "Geocoding address", "provider", sp.name, "address", address)

	reqURL, err := url.Parse(sp.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	query := reqURL.Query()
	for key, values := range sp.params {
		query[key] = values
	}
	query.Set("q", address)
	if sp.keyParam != "" {
		query.Set(sp.keyParam, sp.apiKey)
	}
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := sp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute geocoding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Provider: sp.name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var results []searchResult
	if err = json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", sp.name, err)
	}

	if len(results) == 0 {
		return nil, ErrEmptyResponse
	}

	lat, err := parseCoordinate(results[0].Lat)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid latitude: %s", ErrInvalidCoords, string(results[0].Lat))
	}
	lon, err := parseCoordinate(results[0].Lon)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid longitude: %s", ErrInvalidCoords, string(results[0].Lon))
	}

	sp.log.DebugContext(ctx, "Found result", "provider", sp.name, "lat", lat, "lon", lon)

	return &models.Coordinates{Latitude: lat, Longitude: lon}, nil
}

// parseCoordinate accepts a JSON string or number.
func parseCoordinate(raw json.RawMessage) (float64, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strconv.ParseFloat(strings.TrimSpace(text), 64)
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, err
	}

	return num, nil
}
