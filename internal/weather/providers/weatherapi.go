package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/i474232898/weather-station/internal/common"
	"github.com/i474232898/weather-station/internal/weather"
)

const (
	DefaultWeatherAPIURI = "https://api.weatherapi.com"

	weatherAPIPath = "/v1/current.json"
)

var errNoWeatherAPIKey = errors.New("weatherapi api key is not configured")

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewWeatherAPIProvider(client *http.Client, baseURL, apiKey string, timeout time.Duration) *WeatherAPIProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultWeatherAPIURI
	}
	return &WeatherAPIProvider{
		name:    WeatherAPI,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  client,
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, subject string) (weather.WeatherResult, error) {
	if p.apiKey == "" {
		return weather.WeatherResult{}, weather.Permanent(0, errNoWeatherAPIKey)
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	values := url.Values{}
	values.Set("key", p.apiKey)
	// WeatherAPI accepts "city", "city,country" or "lat,lon" in q.
	values.Set("q", subject)

	body, status, err := getBody(ctx, p.client, fmt.Sprintf("%s%s?%s", p.baseURL, weatherAPIPath, values.Encode()))
	if err != nil {
		return weather.WeatherResult{}, err
	}

	text := gjson.GetBytes(body, "current.condition.text")
	if !gjson.ValidBytes(body) || text.Type != gjson.String {
		return weather.WeatherResult{}, weather.Permanent(status, fmt.Errorf("%w: current.condition.text missing", errMalformed))
	}

	return weather.WeatherResult{
		Subject:   subject,
		Condition: mapWeatherAPICondition(text.Str),
	}, nil
}

// mapWeatherAPICondition folds free-text conditions ("Patchy light rain")
// into OpenWeatherMap groups.
func mapWeatherAPICondition(text string) string {
	switch {
	case text == "":
		return weather.DefaultFallbackCondition
	case common.HasAny(text, "thunder", "storm"):
		return "Thunderstorm"
	case common.HasAny(text, "snow", "sleet", "blizzard", "ice pellets"):
		return "Snow"
	case common.HasAny(text, "drizzle"):
		return "Drizzle"
	case common.HasAny(text, "rain", "shower"):
		return "Rain"
	case common.HasAny(text, "fog", "mist"):
		return "Fog"
	case common.HasAny(text, "cloud", "overcast"):
		return "Clouds"
	case common.HasAny(text, "sunny", "clear"):
		return "Clear"
	default:
		return weather.DefaultFallbackCondition
	}
}
