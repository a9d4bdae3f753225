package providers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/i474232898/weather-station/internal/weather"
)

// Upstream names accepted by New.
const (
	OpenWeatherMap = "openweathermap"
	OpenMeteo      = "openmeteo"
	WeatherAPI     = "weatherapi"
)

// Settings selects and configures one upstream.
type Settings struct {
	Name         string
	BaseURL      string
	GeocodingURL string
	APIKey       string
	Timeout      time.Duration
}

// New builds the provider named by s.Name.
func New(client *http.Client, s Settings) (weather.Provider, error) {
	switch s.Name {
	case "", OpenWeatherMap:
		return NewOpenWeatherProvider(client, s.BaseURL, s.APIKey, s.Timeout), nil
	case OpenMeteo:
		return NewOpenMeteoProvider(client, s.BaseURL, s.GeocodingURL, s.Timeout), nil
	case WeatherAPI:
		return NewWeatherAPIProvider(client, s.BaseURL, s.APIKey, s.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown weather provider %q", s.Name)
	}
}
