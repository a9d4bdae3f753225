package weather

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/i474232898/weather-station/internal/metrics"
	"github.com/i474232898/weather-station/internal/resilience/circuitbreaker"
	"github.com/i474232898/weather-station/internal/resilience/retry"
)

const tracerName = "github.com/i474232898/weather-station/internal/weather"

// Options tunes the lookup pipeline. Zero values fall back to defaults.
type Options struct {
	// RetryMax is the number of additional upstream attempts after the first.
	RetryMax int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
	// Fallback is the condition reported when no upstream value is available.
	Fallback string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now is used to timestamp events; defaults to time.Now.
	Now func() time.Time
}

// Service answers weather lookups through cache, circuit breaker, retry and
// fallback, and publishes an event for every successful upstream fetch.
//
// Lookup and Refresh never fail: every upstream problem resolves to the
// fallback condition, tagged with OriginFallback.
type Service struct {
	provider  Provider
	cache     Cache
	breakers  *circuitbreaker.Registry
	publisher Publisher
	retry     retry.Policy
	fallback  string
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	tracer    trace.Tracer
}

// NewService creates a new Service. publisher may be nil.
func NewService(provider Provider, cache Cache, breakers *circuitbreaker.Registry, publisher Publisher, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	fallback := opts.Fallback
	if fallback == "" {
		fallback = DefaultFallbackCondition
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	retryMax := opts.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}

	return &Service{
		provider:  provider,
		cache:     cache,
		breakers:  breakers,
		publisher: publisher,
		retry: retry.Policy{
			MaxRetries: retryMax,
			Delay:      opts.RetryDelay,
			Retryable:  IsTransient,
			Logger:     log,
		},
		fallback: fallback,
		log:      log,
		metrics:  opts.Metrics,
		now:      now,
		tracer:   otel.Tracer(tracerName),
	}
}

// Lookup returns the current condition for key, preferring a fresh cached
// value over an upstream call.
func (s *Service) Lookup(ctx context.Context, key string) (WeatherResult, Origin) {
	ctx, span := s.tracer.Start(ctx, "weather.Lookup",
		trace.WithAttributes(attribute.String("weather.subject", key)))
	defer span.End()

	if v, ok := s.cache.Get(key); ok {
		return s.finish(span, v, OriginCache)
	}
	return s.fetch(ctx, span, key)
}

// Refresh bypasses the cache read and fetches key from upstream, updating
// the cache and publishing an event on success.
func (s *Service) Refresh(ctx context.Context, key string) (WeatherResult, Origin) {
	ctx, span := s.tracer.Start(ctx, "weather.Refresh",
		trace.WithAttributes(attribute.String("weather.subject", key)))
	defer span.End()

	return s.fetch(ctx, span, key)
}

// Breakers exposes the breaker registry for health reporting.
func (s *Service) Breakers() *circuitbreaker.Registry {
	return s.breakers
}

func (s *Service) fetch(ctx context.Context, span trace.Span, key string) (WeatherResult, Origin) {
	upstream := s.provider.Name()
	breaker := s.breakers.Get(upstream)

	done, err := breaker.Allow()
	if err != nil {
		if circuitbreaker.IsRejected(err) {
			s.metrics.RecordRejection(upstream)
			span.SetAttributes(attribute.Bool("weather.breaker_rejected", true))
			s.log.Warn("upstream call rejected by circuit breaker",
				slog.String("upstream", upstream),
				slog.String("subject", key),
				slog.String("reason", err.Error()))
		} else {
			s.log.Error("circuit breaker failed",
				slog.String("upstream", upstream),
				slog.Any("error", err))
		}
		return s.finish(span, s.fallbackFor(key), OriginFallback)
	}

	var (
		result  WeatherResult
		success bool
	)
	// The breaker sees one outcome per lookup, whatever the attempt count.
	defer func() { done(success) }()

	// Attempts are bounded by the provider timeout and retry policy; a caller
	// going away must not abandon an admitted probe.
	attempts, err := s.retry.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
		start := time.Now()
		r, err := s.provider.Fetch(ctx, key)
		s.metrics.RecordAttempt(upstream, attemptResult(err), time.Since(start))
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	span.SetAttributes(attribute.Int("weather.attempts", attempts))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream lookup failed")
		s.log.Warn("upstream lookup failed, serving fallback",
			slog.String("upstream", upstream),
			slog.String("subject", key),
			slog.Int("attempts", attempts),
			slog.Any("error", err))
		return s.finish(span, s.fallbackFor(key), OriginFallback)
	}
	success = true

	s.cache.Put(key, result)
	if s.publisher != nil {
		s.publisher.Publish(NewEvent(result, s.now()))
	}
	s.log.Debug("fetched weather from upstream",
		slog.String("upstream", upstream),
		slog.String("subject", key),
		slog.String("condition", result.Condition),
		slog.Int("attempts", attempts))

	return s.finish(span, result, OriginUpstream)
}

func (s *Service) finish(span trace.Span, r WeatherResult, origin Origin) (WeatherResult, Origin) {
	span.SetAttributes(attribute.String("weather.origin", origin.String()))
	s.metrics.RecordLookup(origin.String())
	return r, origin
}

func (s *Service) fallbackFor(key string) WeatherResult {
	return WeatherResult{Subject: key, Condition: s.fallback}
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "permanent"
	}
}
