package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/i474232898/weather-station/internal/weather"
)

const (
	DefaultOpenMeteoURI          = "https://api.open-meteo.com"
	DefaultOpenMeteoGeocodingURI = "https://geocoding-api.open-meteo.com"

	openMeteoForecastPath = "/v1/forecast"
	openMeteoSearchPath   = "/v1/search"
)

var errUnknownPlace = errors.New("place not found")

type coordinates struct {
	lat, lon float64
}

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
// Subjects are resolved to coordinates through the Open-Meteo geocoding API
// first; resolved places are remembered for the life of the provider.
type OpenMeteoProvider struct {
	name       string
	baseURL    string
	geocodeURL string
	timeout    time.Duration
	client     *http.Client

	mu     sync.RWMutex
	places map[string]coordinates
}

func NewOpenMeteoProvider(client *http.Client, baseURL, geocodeURL string, timeout time.Duration) *OpenMeteoProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURI
	}
	if geocodeURL == "" {
		geocodeURL = DefaultOpenMeteoGeocodingURI
	}
	return &OpenMeteoProvider{
		name:       OpenMeteo,
		baseURL:    strings.TrimRight(baseURL, "/"),
		geocodeURL: strings.TrimRight(geocodeURL, "/"),
		timeout:    timeout,
		client:     client,
		places:     make(map[string]coordinates),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

// Fetch resolves subject ("City" or "City,cc") and reads the current WMO
// weather code, reported as an OpenWeatherMap-style condition group.
func (p *OpenMeteoProvider) Fetch(ctx context.Context, subject string) (weather.WeatherResult, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	loc, err := p.locate(ctx, subject)
	if err != nil {
		return weather.WeatherResult{}, err
	}

	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(loc.lat, 'f', 4, 64))
	values.Set("longitude", strconv.FormatFloat(loc.lon, 'f', 4, 64))
	values.Set("current", "weather_code")

	body, status, err := getBody(ctx, p.client, fmt.Sprintf("%s%s?%s", p.baseURL, openMeteoForecastPath, values.Encode()))
	if err != nil {
		return weather.WeatherResult{}, err
	}

	code := gjson.GetBytes(body, "current.weather_code")
	if !gjson.ValidBytes(body) || code.Type != gjson.Number {
		return weather.WeatherResult{}, weather.Permanent(status, fmt.Errorf("%w: current.weather_code missing", errMalformed))
	}

	return weather.WeatherResult{
		Subject:   subject,
		Condition: mapOpenMeteoCondition(int(code.Int())),
	}, nil
}

func (p *OpenMeteoProvider) locate(ctx context.Context, subject string) (coordinates, error) {
	p.mu.RLock()
	loc, ok := p.places[subject]
	p.mu.RUnlock()
	if ok {
		return loc, nil
	}

	name, country, _ := strings.Cut(subject, ",")
	values := url.Values{}
	values.Set("name", strings.TrimSpace(name))
	values.Set("count", "1")
	if country = strings.TrimSpace(country); country != "" {
		values.Set("countryCode", strings.ToUpper(country))
	}

	body, status, err := getBody(ctx, p.client, fmt.Sprintf("%s%s?%s", p.geocodeURL, openMeteoSearchPath, values.Encode()))
	if err != nil {
		return coordinates{}, err
	}
	if !gjson.ValidBytes(body) {
		return coordinates{}, weather.Permanent(status, errMalformed)
	}

	first := gjson.GetBytes(body, "results.0")
	if !first.Exists() {
		return coordinates{}, weather.Permanent(status, fmt.Errorf("%w: %q", errUnknownPlace, subject))
	}
	lat, lon := first.Get("latitude"), first.Get("longitude")
	if lat.Type != gjson.Number || lon.Type != gjson.Number {
		return coordinates{}, weather.Permanent(status, fmt.Errorf("%w: coordinates missing", errMalformed))
	}

	loc = coordinates{lat: lat.Float(), lon: lon.Float()}
	p.mu.Lock()
	p.places[subject] = loc
	p.mu.Unlock()
	return loc, nil
}

// mapOpenMeteoCondition folds WMO weather codes into OpenWeatherMap groups.
func mapOpenMeteoCondition(code int) string {
	switch {
	case code == 0:
		return "Clear"
	case code >= 1 && code <= 3:
		return "Clouds"
	case code == 45 || code == 48:
		return "Fog"
	case code >= 51 && code <= 57:
		return "Drizzle"
	case (code >= 61 && code <= 67) || (code >= 80 && code <= 82):
		return "Rain"
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return "Snow"
	case code >= 95:
		return "Thunderstorm"
	default:
		return weather.DefaultFallbackCondition
	}
}
