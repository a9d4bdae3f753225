// Package metrics provides the Prometheus collectors of the weather station.
//
// Collectors are registered on an injected registry so that tests and
// multiple service instances do not collide on the global default registry.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the service records into.
type Metrics struct {
	// LookupsTotal counts lookups by origin (cache, upstream, fallback).
	LookupsTotal *prometheus.CounterVec
	// UpstreamAttemptsTotal counts individual upstream attempts by result
	// (success, transient, permanent).
	UpstreamAttemptsTotal *prometheus.CounterVec
	// UpstreamDuration measures single upstream attempts.
	UpstreamDuration *prometheus.HistogramVec
	// BreakerRejectionsTotal counts calls refused by an open circuit.
	BreakerRejectionsTotal *prometheus.CounterVec
	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState *prometheus.GaugeVec
	// StationSubscribers tracks registered event stream subscribers.
	StationSubscribers prometheus.Gauge
	// EventsPublishedTotal counts weather events handed to the broadcaster.
	EventsPublishedTotal prometheus.Counter
	// DeliveryFailuresTotal counts failed deliveries by reason.
	DeliveryFailuresTotal *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weather_lookups_total",
				Help: "Total number of weather lookups by result origin",
			},
			[]string{"origin"},
		),
		UpstreamAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weather_upstream_attempts_total",
				Help: "Total number of upstream weather API attempts",
			},
			[]string{"upstream", "result"},
		),
		UpstreamDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "weather_upstream_duration_seconds",
				Help:    "Duration of single upstream weather API attempts",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
			},
			[]string{"upstream"},
		),
		BreakerRejectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weather_breaker_rejections_total",
				Help: "Total number of lookups rejected by an open circuit breaker",
			},
			[]string{"upstream"},
		),
		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weather_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"upstream"},
		),
		StationSubscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "weather_station_subscribers",
				Help: "Number of registered weather event subscribers",
			},
		),
		EventsPublishedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "weather_events_published_total",
				Help: "Total number of weather events published",
			},
		),
		DeliveryFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weather_event_delivery_failures_total",
				Help: "Total number of failed event deliveries by reason",
			},
			[]string{"reason"},
		),
	}
}

func (m *Metrics) RecordLookup(origin string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(origin).Inc()
}

func (m *Metrics) RecordAttempt(upstream, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamAttemptsTotal.WithLabelValues(upstream, result).Inc()
	m.UpstreamDuration.WithLabelValues(upstream).Observe(d.Seconds())
}

func (m *Metrics) RecordRejection(upstream string) {
	if m == nil {
		return
	}
	m.BreakerRejectionsTotal.WithLabelValues(upstream).Inc()
}

// SetBreakerState records a breaker state as reported by State.String().
func (m *Metrics) SetBreakerState(upstream, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(upstream).Set(v)
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.StationSubscribers.Set(float64(n))
}

func (m *Metrics) RecordPublished() {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.Inc()
}

func (m *Metrics) RecordDeliveryFailure(reason string) {
	if m == nil {
		return
	}
	m.DeliveryFailuresTotal.WithLabelValues(reason).Inc()
}
