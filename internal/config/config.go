package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingAPIKey is returned when the selected provider needs a credential and none is set.
var ErrMissingAPIKey = errors.New("the environment variable GEO_API_KEY is not set")

// Config holds the configuration settings for the batch geocoder.
//
// Fields:
// - Env: The current environment (local, development, production).
// - ProviderType: The geocoding provider to use (mapsco, nominatim, google).
// - ProviderURL: Overrides the provider endpoint; empty keeps the provider default.
// - APIKey: The credential passed to the provider.
// - DailyLimit: The maximum number of rows geocoded in one run.
// - Throttle: The pause after every provider call.
// - RateLimit: Client-side requests per second, zero disables it.
// - RequestTimeout: The HTTP timeout of a single provider call.
// - Sheet: The workbook sheet holding addresses, first sheet when empty.
// - PGTable: The table holding addresses when the location is a PostgreSQL URL.
// - Metrics: Where run metrics are exported.
type Config struct {
	Env            string        `yaml:"env"`
	ProviderType   string        `yaml:"provider.type"`
	ProviderURL    string        `yaml:"provider.url"`
	APIKey         string        `yaml:"provider.api_key"`
	DailyLimit     int           `yaml:"batch.daily_limit"`
	Throttle       time.Duration `yaml:"batch.throttle"`
	RateLimit      int           `yaml:"provider.rate_limit"`
	RequestTimeout time.Duration `yaml:"provider.timeout"`
	Sheet          string        `yaml:"table.sheet"`
	PGTable        string        `yaml:"table.pg_table"`
	Metrics        MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds the export targets for run metrics. Both are optional.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"` // Pushgateway base URL
	TextfilePath   string `yaml:"textfile"`        // node_exporter textfile collector path
}

// keyless lists providers that work without a credential.
var keyless = map[string]bool{"nominatim": true}

// Load reads .env (if present) and the process environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	bind(v, "env", "ATLAS_ENV", "production")
	bind(v, "api_key", "", "", "GEO_API_KEY", "ATLAS_PROVIDER_KEY")
	bind(v, "provider_type", "ATLAS_PROVIDER_TYPE", "mapsco")
	bind(v, "provider_url", "ATLAS_PROVIDER_URL", "")
	bind(v, "daily_limit", "ATLAS_DAILY_LIMIT", "4900")
	bind(v, "throttle", "ATLAS_THROTTLE", "1.5s")
	bind(v, "rate_limit", "ATLAS_RATE_LIMIT", "0")
	bind(v, "request_timeout", "ATLAS_REQUEST_TIMEOUT", "10s")
	bind(v, "sheet", "ATLAS_SHEET", "")
	bind(v, "pg_table", "ATLAS_PG_TABLE", "addresses")
	bind(v, "pushgateway_url", "ATLAS_PUSHGATEWAY_URL", "")
	bind(v, "metrics_file", "ATLAS_METRICS_FILE", "")

	dailyLimit, err := strconv.Atoi(v.GetString("daily_limit"))
	if err != nil || dailyLimit <= 0 {
		return nil, fmt.Errorf("failed to parse daily limit from configuration, must be a positive integer: %q",
			v.GetString("daily_limit"))
	}

	throttle, err := time.ParseDuration(v.GetString("throttle"))
	if err != nil || throttle < 0 {
		return nil, fmt.Errorf("failed to parse throttle from configuration: %q", v.GetString("throttle"))
	}

	rateLimit, err := strconv.Atoi(v.GetString("rate_limit"))
	if err != nil || rateLimit < 0 {
		return nil, fmt.Errorf("failed to parse rate limit from configuration, must be an integer: %q",
			v.GetString("rate_limit"))
	}

	timeout, err := time.ParseDuration(v.GetString("request_timeout"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request timeout from configuration: %q",
			v.GetString("request_timeout"))
	}

	cfg := &Config{
		Env:            v.GetString("env"),
		ProviderType:   v.GetString("provider_type"),
		ProviderURL:    v.GetString("provider_url"),
		APIKey:         v.GetString("api_key"),
		DailyLimit:     dailyLimit,
		Throttle:       throttle,
		RateLimit:      rateLimit,
		RequestTimeout: timeout,
		Sheet:          v.GetString("sheet"),
		PGTable:        v.GetString("pg_table"),
		Metrics: MetricsConfig{
			PushgatewayURL: v.GetString("pushgateway_url"),
			TextfilePath:   v.GetString("metrics_file"),
		},
	}

	if cfg.APIKey == "" && !keyless[cfg.ProviderType] {
		return nil, ErrMissingAPIKey
	}

	return cfg, nil
}

// bind maps key to one or more environment variables and sets its default.
func bind(v *viper.Viper, key, env, def string, aliases ...string) {
	names := aliases
	if env != "" {
		names = append([]string{env}, aliases...)
	}
	_ = v.BindEnv(append([]string{key}, names...)...)
	v.SetDefault(key, def)
}
