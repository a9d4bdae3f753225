package weather_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-station/internal/broadcast"
	"github.com/i474232898/weather-station/internal/cache"
	"github.com/i474232898/weather-station/internal/metrics"
	"github.com/i474232898/weather-station/internal/resilience/circuitbreaker"
	"github.com/i474232898/weather-station/internal/weather"
)

var errBoom = errors.New("boom")

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	fetch func(ctx context.Context, subject string, call int) (weather.WeatherResult, error)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Fetch(ctx context.Context, subject string) (weather.WeatherResult, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	return p.fetch(ctx, subject, call)
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func succeeding(condition string) *fakeProvider {
	return &fakeProvider{fetch: func(_ context.Context, subject string, _ int) (weather.WeatherResult, error) {
		return weather.WeatherResult{Subject: subject, Condition: condition}, nil
	}}
}

func failing(err error) *fakeProvider {
	return &fakeProvider{fetch: func(context.Context, string, int) (weather.WeatherResult, error) {
		return weather.WeatherResult{}, err
	}}
}

type fixture struct {
	svc      *weather.Service
	cache    *cache.ResultCache
	hub      *broadcast.Broadcaster
	breakers *circuitbreaker.Registry
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, p weather.Provider, retryMax int) fixture {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	c := cache.New(16, time.Minute)
	hub := broadcast.New(broadcast.WithMetrics(m))
	t.Cleanup(hub.Close)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureRatio: 0.75,
		MinRequests:  4,
		Window:       4,
		Delay:        50 * time.Millisecond,
	})
	svc := weather.NewService(p, c, breakers, hub, weather.Options{
		RetryMax:   retryMax,
		RetryDelay: time.Millisecond,
		Metrics:    m,
	})
	return fixture{svc: svc, cache: c, hub: hub, breakers: breakers, metrics: m}
}

func noEvent(t *testing.T, sub *broadcast.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestService_CacheHitSkipsUpstream(t *testing.T) {
	p := succeeding("Rain")
	f := newFixture(t, p, 1)
	f.cache.Put("Berlin", weather.WeatherResult{Subject: "Berlin", Condition: "Clouds"})

	res, origin := f.svc.Lookup(context.Background(), "Berlin")

	assert.Equal(t, weather.WeatherResult{Subject: "Berlin", Condition: "Clouds"}, res)
	assert.Equal(t, weather.OriginCache, origin)
	assert.Zero(t, p.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LookupsTotal.WithLabelValues("cache")))
}

func TestService_UpstreamSuccessCachesAndPublishes(t *testing.T) {
	p := succeeding("Clear")
	f := newFixture(t, p, 1)
	sub := f.hub.Register()

	res, origin := f.svc.Lookup(context.Background(), "Paris")
	require.Equal(t, weather.OriginUpstream, origin)
	assert.Equal(t, weather.WeatherResult{Subject: "Paris", Condition: "Clear"}, res)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, res, ev.Result())
		assert.False(t, ev.ProducedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	cached, ok := f.cache.Get("Paris")
	require.True(t, ok)
	assert.Equal(t, res, cached)

	// Served from cache the second time, with no further event.
	_, origin = f.svc.Lookup(context.Background(), "Paris")
	assert.Equal(t, weather.OriginCache, origin)
	assert.Equal(t, 1, p.Calls())
	noEvent(t, sub)
}

func TestService_TransientFailureRetriesThenFallsBack(t *testing.T) {
	p := failing(weather.Transient(503, errBoom))
	f := newFixture(t, p, 1)
	sub := f.hub.Register()

	res, origin := f.svc.Lookup(context.Background(), "Berlin")

	assert.Equal(t, weather.WeatherResult{Subject: "Berlin", Condition: weather.DefaultFallbackCondition}, res)
	assert.Equal(t, weather.OriginFallback, origin)
	assert.Equal(t, 2, p.Calls(), "first attempt plus one retry")
	noEvent(t, sub)

	_, ok := f.cache.Get("Berlin")
	assert.False(t, ok, "fallback values are never cached")
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.UpstreamAttemptsTotal.WithLabelValues("fake", "transient")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LookupsTotal.WithLabelValues("fallback")))
}

func TestService_RetryRecoversWithinBudget(t *testing.T) {
	p := &fakeProvider{fetch: func(_ context.Context, subject string, call int) (weather.WeatherResult, error) {
		if call == 1 {
			return weather.WeatherResult{}, weather.Transient(0, errBoom)
		}
		return weather.WeatherResult{Subject: subject, Condition: "Snow"}, nil
	}}
	f := newFixture(t, p, 1)

	res, origin := f.svc.Lookup(context.Background(), "Oslo")

	assert.Equal(t, weather.OriginUpstream, origin)
	assert.Equal(t, "Snow", res.Condition)
	assert.Equal(t, 2, p.Calls())
}

func TestService_PermanentFailureIsNotRetried(t *testing.T) {
	p := failing(weather.Permanent(404, errBoom))
	f := newFixture(t, p, 3)

	_, origin := f.svc.Lookup(context.Background(), "Nowhere")

	assert.Equal(t, weather.OriginFallback, origin)
	assert.Equal(t, 1, p.Calls())
}

func TestService_CustomFallbackCondition(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svc := weather.NewService(failing(weather.Permanent(0, errBoom)), cache.New(4, time.Minute),
		circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig("")), nil,
		weather.Options{Fallback: "N/A", Metrics: m})

	res, origin := svc.Lookup(context.Background(), "Berlin")
	assert.Equal(t, weather.OriginFallback, origin)
	assert.Equal(t, "N/A", res.Condition)
}

func TestService_OpenBreakerShortCircuits(t *testing.T) {
	p := failing(weather.Transient(500, errBoom))
	f := newFixture(t, p, 0)

	// Each lookup contributes exactly one outcome to the window.
	for i := 0; i < 4; i++ {
		_, origin := f.svc.Lookup(context.Background(), "Berlin")
		require.Equal(t, weather.OriginFallback, origin)
	}
	require.Equal(t, 4, p.Calls())
	require.Equal(t, circuitbreaker.StateOpen, f.breakers.Get("fake").State())

	res, origin := f.svc.Lookup(context.Background(), "Berlin")
	assert.Equal(t, weather.OriginFallback, origin)
	assert.Equal(t, weather.DefaultFallbackCondition, res.Condition)
	assert.Equal(t, 4, p.Calls(), "no upstream call while open")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.BreakerRejectionsTotal.WithLabelValues("fake")))
}

func TestService_HalfOpenAdmitsSingleProbe(t *testing.T) {
	release := make(chan struct{})
	probing := make(chan struct{})
	var failingPhase = true
	var mu sync.Mutex

	p := &fakeProvider{fetch: func(_ context.Context, subject string, _ int) (weather.WeatherResult, error) {
		mu.Lock()
		fail := failingPhase
		mu.Unlock()
		if fail {
			return weather.WeatherResult{}, weather.Transient(500, errBoom)
		}
		close(probing)
		<-release
		return weather.WeatherResult{Subject: subject, Condition: "Clear"}, nil
	}}
	f := newFixture(t, p, 0)

	for i := 0; i < 4; i++ {
		f.svc.Lookup(context.Background(), "Berlin")
	}
	require.Equal(t, circuitbreaker.StateOpen, f.breakers.Get("fake").State())

	mu.Lock()
	failingPhase = false
	mu.Unlock()
	time.Sleep(70 * time.Millisecond)

	type outcome struct {
		res    weather.WeatherResult
		origin weather.Origin
	}
	probe := make(chan outcome, 1)
	go func() {
		res, origin := f.svc.Lookup(context.Background(), "Berlin")
		probe <- outcome{res, origin}
	}()

	select {
	case <-probing:
	case <-time.After(time.Second):
		t.Fatal("probe never reached upstream")
	}

	// A second caller while the probe is unresolved is rejected at once.
	_, origin := f.svc.Lookup(context.Background(), "Berlin")
	assert.Equal(t, weather.OriginFallback, origin)
	assert.Equal(t, 5, p.Calls())

	close(release)
	got := <-probe
	assert.Equal(t, weather.OriginUpstream, got.origin)
	assert.Equal(t, "Clear", got.res.Condition)
	assert.Equal(t, circuitbreaker.StateClosed, f.breakers.Get("fake").State())
}

func TestService_CallerCancellationDoesNotAbandonAttempt(t *testing.T) {
	p := &fakeProvider{fetch: func(ctx context.Context, subject string, _ int) (weather.WeatherResult, error) {
		if err := ctx.Err(); err != nil {
			return weather.WeatherResult{}, weather.Transient(0, err)
		}
		return weather.WeatherResult{Subject: subject, Condition: "Clouds"}, nil
	}}
	f := newFixture(t, p, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, origin := f.svc.Lookup(ctx, "Berlin")
	assert.Equal(t, weather.OriginUpstream, origin)
	assert.Equal(t, circuitbreaker.StateClosed, f.breakers.Get("fake").State())
}

func TestService_RefreshBypassesCache(t *testing.T) {
	p := succeeding("Thunderstorm")
	f := newFixture(t, p, 0)
	f.cache.Put("Rome", weather.WeatherResult{Subject: "Rome", Condition: "Clear"})
	sub := f.hub.Register()

	res, origin := f.svc.Refresh(context.Background(), "Rome")

	assert.Equal(t, weather.OriginUpstream, origin)
	assert.Equal(t, "Thunderstorm", res.Condition)
	assert.Equal(t, 1, p.Calls())

	cached, _ := f.cache.Get("Rome")
	assert.Equal(t, "Thunderstorm", cached.Condition)
	select {
	case ev := <-sub.Events():
		assert.Equal(t, "Rome", ev.Subject)
	case <-time.After(time.Second):
		t.Fatal("refresh did not publish")
	}
}

func TestService_ConcurrentLookups(t *testing.T) {
	p := succeeding("Clouds")
	f := newFixture(t, p, 0)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, origin := f.svc.Lookup(context.Background(), "Berlin")
			assert.Equal(t, "Clouds", res.Condition)
			assert.NotEqual(t, weather.OriginFallback, origin)
		}()
	}
	wg.Wait()
}
