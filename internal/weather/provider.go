package weather

import (
	"context"
	"time"
)

// Provider abstracts the upstream weather API (e.g. OpenWeatherMap).
// Fetch performs exactly one outbound call and enforces its own timeout.
// Failures must be reported as *UpstreamError so they can be classified.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, subject string) (WeatherResult, error)
}

// Cache holds the last successful result per lookup key.
type Cache interface {
	Get(key string) (WeatherResult, bool)
	Put(key string, value WeatherResult)
}

// Publisher receives events for successful fetches. Publish must not block
// on slow consumers and must not fail the caller.
type Publisher interface {
	Publish(event WeatherEvent)
}

// Store is the contract the history stores (memory, sqlite) must satisfy.
type Store interface {
	SaveEvent(ctx context.Context, event WeatherEvent) error
	GetLatest(ctx context.Context, subject string) (WeatherEvent, error)
	GetRange(ctx context.Context, subject string, from, to time.Time) ([]WeatherEvent, error)
	Close() error
}
