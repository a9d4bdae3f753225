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

	"github.com/i474232898/weather-station/internal/weather"
)

const (
	// DefaultOpenWeatherURI is the public OpenWeatherMap API host.
	DefaultOpenWeatherURI = "https://api.openweathermap.org"

	openWeatherPath = "/data/2.5/weather"
	// conditionPath points at the first weather entry's main group, e.g. "Clouds".
	conditionPath = "weather.0.main"
)

var errNoAPIKey = errors.New("openweather api key is not configured")

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewOpenWeatherProvider creates a provider calling baseURL with apiKey.
// Each Fetch is bounded by timeout regardless of the caller's context.
func NewOpenWeatherProvider(client *http.Client, baseURL, apiKey string, timeout time.Duration) *OpenWeatherProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultOpenWeatherURI
	}
	return &OpenWeatherProvider{
		name:    OpenWeatherMap,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  client,
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// Fetch performs one GET {base}/data/2.5/weather?q={subject}&appid={key}.
func (p *OpenWeatherProvider) Fetch(ctx context.Context, subject string) (weather.WeatherResult, error) {
	if p.apiKey == "" {
		return weather.WeatherResult{}, weather.Permanent(0, errNoAPIKey)
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	values := url.Values{}
	values.Set("q", subject)
	values.Set("appid", p.apiKey)

	body, status, err := getBody(ctx, p.client, fmt.Sprintf("%s%s?%s", p.baseURL, openWeatherPath, values.Encode()))
	if err != nil {
		return weather.WeatherResult{}, err
	}

	condition, err := parseCondition(body)
	if err != nil {
		return weather.WeatherResult{}, weather.Permanent(status, err)
	}

	return weather.WeatherResult{
		Subject:   subject,
		Condition: condition,
	}, nil
}

func parseCondition(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errMalformed
	}
	main := gjson.GetBytes(body, conditionPath)
	if main.Type != gjson.String || main.Str == "" {
		return "", fmt.Errorf("%w: %s missing", errMalformed, conditionPath)
	}
	return main.Str, nil
}
