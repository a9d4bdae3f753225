package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/weather-station/internal/broadcast"
	"github.com/i474232898/weather-station/internal/resilience/circuitbreaker"
	"github.com/i474232898/weather-station/internal/store"
	"github.com/i474232898/weather-station/internal/weather"
)

const (
	originHeader       = "X-Weather-Origin"
	defaultHistorySpan = 24 * time.Hour
	defaultHeartbeat   = 15 * time.Second
)

var validate = validator.New()

// Lookuper is the part of weather.Service the handlers use.
type Lookuper interface {
	Lookup(ctx context.Context, key string) (weather.WeatherResult, weather.Origin)
}

// BreakerStats reports per-upstream breaker state.
type BreakerStats interface {
	Stats() map[string]circuitbreaker.Snapshot
}

// Deps are the collaborators the routes are served from.
type Deps struct {
	Service Lookuper
	Hub     *broadcast.Broadcaster
	History weather.Store
	// Breakers and Gatherer are optional.
	Breakers BreakerStats
	Gatherer prometheus.Gatherer

	ServiceName string
	Hostname    string
	Heartbeat   time.Duration
	Logger      *slog.Logger
	// Now defaults to time.Now; used for the default history window.
	Now func() time.Time
}

type handler struct {
	Deps
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	if d.Heartbeat <= 0 {
		d.Heartbeat = defaultHeartbeat
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handler{Deps: d}

	app.Get("/health", h.health)
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	app.Get("/weather/:city", h.weatherText)
	app.Post("/weather", h.weatherForm)

	app.Get("/weather-station", h.stream)
	app.Post("/weather-station", h.weatherForm)

	v1 := app.Group("/api/v1")
	v1.Get("/weather/:city", h.weatherJSON)
	v1.Get("/weather/:city/history", h.history)
}

// lookupResponse is the JSON body of a lookup.
type lookupResponse struct {
	Subject   string         `json:"subject"`
	Condition string         `json:"condition"`
	Origin    weather.Origin `json:"origin"`
}

func (h *handler) lookup(c *fiber.Ctx, city string) (weather.WeatherResult, weather.Origin) {
	res, origin := h.Service.Lookup(c.UserContext(), city)
	c.Set(originHeader, origin.String())
	return res, origin
}

func (h *handler) weatherText(c *fiber.Ctx) error {
	city, err := cityParam(c)
	if err != nil {
		return err
	}
	res, _ := h.lookup(c, city)
	return c.SendString(res.Condition)
}

func (h *handler) weatherJSON(c *fiber.Ctx) error {
	city, err := cityParam(c)
	if err != nil {
		return err
	}
	res, origin := h.lookup(c, city)
	return c.JSON(lookupResponse{
		Subject:   res.Subject,
		Condition: res.Condition,
		Origin:    origin,
	})
}

// cityForm is the form body of POST /weather and POST /weather-station.
type cityForm struct {
	City string `form:"city" validate:"required"`
}

func (h *handler) weatherForm(c *fiber.Ctx) error {
	var form cityForm
	if err := c.BodyParser(&form); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid form body")
	}
	form.City = strings.TrimSpace(form.City)
	if err := validate.Struct(form); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "city is required")
	}

	res, _ := h.lookup(c, form.City)
	return c.SendString(res.Condition)
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *handler) history(c *fiber.Ctx) error {
	if h.History == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "history is not enabled")
	}
	city, err := cityParam(c)
	if err != nil {
		return err
	}

	var q historyQuery
	if err := q.bind(c, h.Now()); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "to must not be before from")
	}

	events, err := h.History.GetRange(c.UserContext(), city, q.From, q.To)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no weather history for requested range")
		}
		h.Logger.Error("failed to read weather history",
			slog.String("subject", city),
			slog.Any("error", err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
	}

	return c.JSON(fiber.Map{
		"subject": city,
		"from":    q.From,
		"to":      q.To,
		"events":  events,
	})
}

func (q *historyQuery) bind(c *fiber.Ctx, now time.Time) error {
	q.To = now.UTC()
	q.From = q.To.Add(-defaultHistorySpan)

	if s := c.Query("from"); s != "" {
		from, err := parseTime(s)
		if err != nil {
			return err
		}
		q.From = from
	}
	if s := c.Query("to"); s != "" {
		to, err := parseTime(s)
		if err != nil {
			return err
		}
		q.To = to
	}
	return nil
}

func (h *handler) health(c *fiber.Ctx) error {
	status := "ok"
	var breakers map[string]circuitbreaker.Snapshot
	if h.Breakers != nil {
		breakers = h.Breakers.Stats()
		for _, snap := range breakers {
			if snap.State != circuitbreaker.StateClosed.String() {
				status = "degraded"
			}
		}
	}

	subscribers := 0
	if h.Hub != nil {
		subscribers = h.Hub.Len()
	}

	return c.JSON(fiber.Map{
		"status":      status,
		"service":     h.ServiceName,
		"hostname":    h.Hostname,
		"breakers":    breakers,
		"subscribers": subscribers,
	})
}

// cityParam returns the trimmed, unescaped :city path segment.
func cityParam(c *fiber.Ctx) (string, error) {
	raw := c.Params("city")
	city, err := url.PathUnescape(raw)
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid city")
	}
	city = strings.TrimSpace(city)
	if city == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "city is required")
	}
	return city, nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
