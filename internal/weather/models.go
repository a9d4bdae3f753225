package weather

import (
	"time"
)

// DefaultFallbackCondition is reported when no upstream value could be obtained.
const DefaultFallbackCondition = "Unknown"

// Origin tells the caller where a lookup result came from.
type Origin int

const (
	OriginCache Origin = iota
	OriginUpstream
	OriginFallback
)

func (o Origin) String() string {
	switch o {
	case OriginCache:
		return "cache"
	case OriginUpstream:
		return "upstream"
	case OriginFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// MarshalText lets Origin appear as its name in JSON bodies.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// WeatherResult is the current condition for a subject (usually a city name,
// optionally suffixed with a country code such as "Rosenheim,de").
type WeatherResult struct {
	Subject   string `json:"subject"`
	Condition string `json:"condition"`
}

// WeatherEvent is emitted once per successful upstream fetch.
type WeatherEvent struct {
	Subject    string    `json:"subject"`
	Condition  string    `json:"condition"`
	ProducedAt time.Time `json:"producedAt"` // always UTC
}

// NewEvent builds the event for a freshly fetched result.
func NewEvent(r WeatherResult, at time.Time) WeatherEvent {
	return WeatherEvent{
		Subject:    r.Subject,
		Condition:  r.Condition,
		ProducedAt: at.UTC(),
	}
}

// Result returns the value carried by the event.
func (e WeatherEvent) Result() WeatherResult {
	return WeatherResult{Subject: e.Subject, Condition: e.Condition}
}
