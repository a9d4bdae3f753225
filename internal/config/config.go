package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port        string `env:"PORT" envDefault:"8080" validate:"required,numeric"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev" validate:"oneof=dev staging prod"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	HostnameOverride string `env:"HOSTNAME_OVERRIDE"`
	SystemHostname   string `env:"HOSTNAME" envDefault:"localhost"`

	Weather WeatherConfig
	Retry   RetryConfig
	Breaker BreakerConfig
	Cache   CacheConfig
	Station StationConfig
	Refresh RefreshConfig
	History HistoryConfig
}

type WeatherConfig struct {
	Provider string `env:"WEATHER_PROVIDER" envDefault:"openweathermap" validate:"oneof=openweathermap openmeteo weatherapi"`
	// URI is the upstream base; empty selects the provider's public host.
	URI          string        `env:"WEATHER_URI" validate:"omitempty,url"`
	GeocodingURI string        `env:"WEATHER_GEOCODING_URI" validate:"omitempty,url"`
	AppID        string        `env:"WEATHER_APPID" validate:"required_unless=Provider openmeteo"`
	Timeout      time.Duration `env:"WEATHER_TIMEOUT" envDefault:"3s" validate:"gt=0"`
	Fallback     string        `env:"WEATHER_FALLBACK" envDefault:"Unknown" validate:"required"`
}

type RetryConfig struct {
	// Max is the number of additional attempts after the first; 0 disables retries.
	Max   int           `env:"RETRY_MAX" envDefault:"1" validate:"gte=0,lte=10"`
	Delay time.Duration `env:"RETRY_DELAY" envDefault:"200ms" validate:"gte=0"`
}

type BreakerConfig struct {
	FailureRatio float64       `env:"BREAKER_FAILURE_RATIO" envDefault:"0.75" validate:"gt=0,lte=1"`
	MinRequests  uint32        `env:"BREAKER_MIN_REQUESTS" envDefault:"10" validate:"gte=1"`
	Window       int           `env:"BREAKER_WINDOW" envDefault:"10" validate:"gte=1"`
	Delay        time.Duration `env:"BREAKER_DELAY" envDefault:"10s" validate:"gt=0"`
}

type CacheConfig struct {
	TTL      time.Duration `env:"CACHE_TTL" envDefault:"10m" validate:"gt=0"`
	Capacity int           `env:"CACHE_CAPACITY" envDefault:"1024" validate:"gte=1"`
}

type StationConfig struct {
	Buffer    int           `env:"STATION_BUFFER" envDefault:"16" validate:"gte=1"`
	Heartbeat time.Duration `env:"STATION_HEARTBEAT" envDefault:"15s" validate:"gt=0"`
}

type RefreshConfig struct {
	Interval time.Duration `env:"REFRESH_INTERVAL" envDefault:"15m" validate:"gt=0"`
	// Locations are separated by ";" so entries can carry a country code.
	Locations []string `env:"WEATHER_LOCATIONS" envSeparator:";"`
}

type HistoryConfig struct {
	Backend    string `env:"HISTORY_BACKEND" envDefault:"memory" validate:"oneof=memory sqlite"`
	SQLitePath string `env:"HISTORY_SQLITE_PATH" envDefault:"weather.db" validate:"required_if=Backend sqlite"`
	// MaxEvents caps events kept per subject (0 = unlimited). 96 is roughly
	// 24h at 15-minute refreshes.
	MaxEvents int           `env:"HISTORY_MAX" envDefault:"96" validate:"gte=0"`
	MaxAge    time.Duration `env:"HISTORY_MAX_AGE" envDefault:"24h" validate:"gte=0"`
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", slog.Any("reason", err))
	}

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Refresh.Locations = cleanLocations(cfg.Refresh.Locations)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	// The window only holds Window outcomes; a smaller window than
	// MinRequests would keep the breaker closed forever.
	if cfg.Breaker.Window < int(cfg.Breaker.MinRequests) {
		return nil, fmt.Errorf("invalid configuration: BREAKER_WINDOW (%d) must be at least BREAKER_MIN_REQUESTS (%d)",
			cfg.Breaker.Window, cfg.Breaker.MinRequests)
	}
	return cfg, nil
}

// Hostname identifies this instance in health reports.
func (c *AppConfig) Hostname() string {
	if c.HostnameOverride != "" {
		return c.HostnameOverride
	}
	return c.SystemHostname
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "prod"
}

func cleanLocations(raw []string) []string {
	var locs []string
	seen := make(map[string]bool, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		locs = append(locs, l)
	}
	return locs
}
