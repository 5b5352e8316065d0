package geocoding

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"googlemaps.github.io/maps"
)

// ProviderType represents the type of geocoding provider.
type ProviderType string

const (
	// ProviderTypeMapsCo represents the geocode.maps.co search API.
	ProviderTypeMapsCo ProviderType = "mapsco"
	// ProviderTypeNominatim represents OpenStreetMap Nominatim geocoding provider.
	ProviderTypeNominatim ProviderType = "nominatim"
	// ProviderTypeGoogle represents Google Maps geocoding provider.
	ProviderTypeGoogle ProviderType = "google"
)

// ErrAPIKeyRequired is returned when a provider that needs a key is configured without one.
var ErrAPIKeyRequired = errors.New("API key is required")

// ProviderConfig holds configuration for creating a geocoding provider.
type ProviderConfig struct {
	Type      ProviderType  // Type of provider to create
	APIKey    string        // API key (maps.co, Google)
	BaseURL   string        // Overrides the endpoint of search providers
	RateLimit int           // Requests per second, zero means unlimited
	Timeout   time.Duration // HTTP timeout of search providers
	Logger    *slog.Logger  // Logger for the provider
}

// RequiresAPIKey reports whether providers of this type need a credential.
func (t ProviderType) RequiresAPIKey() bool {
	return t == ProviderTypeMapsCo || t == ProviderTypeGoogle
}

// NewProvider creates a geocoding provider based on the provided configuration.
//
// Supported provider types:
// - "mapsco": geocode.maps.co search API (requires API key)
// - "nominatim": OpenStreetMap Nominatim API (free, no API key required)
// - "google": Google Maps Geocoding API (requires API key)
func NewProvider(config ProviderConfig) (Provider, error) {
	if config.Type.RequiresAPIKey() && config.APIKey == "" {
		return nil, fmt.Errorf("%w for %s provider", ErrAPIKeyRequired, config.Type)
	}

	opts := []SearchOption{
		WithTimeout(config.Timeout),
		WithBaseURL(config.BaseURL),
		WithRateLimit(config.RateLimit),
	}

	switch config.Type {
	case ProviderTypeMapsCo:
		return NewMapsCoProvider(config.APIKey, config.Logger, opts...), nil
	case ProviderTypeNominatim:
		return NewNominatimProvider(config.Logger, opts...), nil
	case ProviderTypeGoogle:
		return newGoogleProvider(config)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}

// newGoogleProvider creates a Google Maps geocoding provider.
func newGoogleProvider(config ProviderConfig) (Provider, error) {
	clientOpts := []maps.ClientOption{
		maps.WithAPIKey(config.APIKey),
	}
	if config.RateLimit > 0 {
		clientOpts = append(clientOpts, maps.WithRateLimit(config.RateLimit))
	}

	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return NewGoogleProvider(client, config.Logger), nil
}
