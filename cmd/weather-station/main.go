package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/i474232898/weather-station/internal/api/http"
	"github.com/i474232898/weather-station/internal/broadcast"
	"github.com/i474232898/weather-station/internal/cache"
	"github.com/i474232898/weather-station/internal/config"
	"github.com/i474232898/weather-station/internal/logging"
	"github.com/i474232898/weather-station/internal/metrics"
	"github.com/i474232898/weather-station/internal/resilience/circuitbreaker"
	"github.com/i474232898/weather-station/internal/scheduler"
	"github.com/i474232898/weather-station/internal/store"
	"github.com/i474232898/weather-station/internal/weather"
	"github.com/i474232898/weather-station/internal/weather/providers"
)

const serviceName = "weather-station"

func main() {
	if err := run(); err != nil {
		slog.Error("weather station stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logging.New(cfg.LogLevel, cfg.Environment, serviceName, cfg.IsProduction())
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Shared HTTP client for outbound calls; each attempt carries its own
	// deadline, the client timeout is a backstop.
	httpClient := &http.Client{
		Timeout: 2 * cfg.Weather.Timeout,
	}

	provider, err := providers.New(httpClient, providers.Settings{
		Name:         cfg.Weather.Provider,
		BaseURL:      cfg.Weather.URI,
		GeocodingURL: cfg.Weather.GeocodingURI,
		APIKey:       cfg.Weather.AppID,
		Timeout:      cfg.Weather.Timeout,
	})
	if err != nil {
		return err
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureRatio: cfg.Breaker.FailureRatio,
		MinRequests:  cfg.Breaker.MinRequests,
		Window:       cfg.Breaker.Window,
		Delay:        cfg.Breaker.Delay,
		Logger:       log,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			m.SetBreakerState(name, to.String())
		},
	})
	m.SetBreakerState(provider.Name(), breakers.Get(provider.Name()).State().String())

	resultCache := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)

	hub := broadcast.New(
		broadcast.WithBuffer(cfg.Station.Buffer),
		broadcast.WithLogger(log),
		broadcast.WithMetrics(m),
	)
	defer hub.Close()

	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := history.Close(); err != nil {
			log.Error("failed to close history store", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Registered after the history close, so it runs first on every return
	// path and no save races the store shutting down.
	stopRecorder := store.NewRecorder(history, log).Start(ctx, hub)
	defer stopRecorder()

	// Core service: cache, breaker, retry, fallback, events.
	service := weather.NewService(provider, resultCache, breakers, hub, weather.Options{
		RetryMax:   cfg.Retry.Max,
		RetryDelay: cfg.Retry.Delay,
		Fallback:   cfg.Weather.Fallback,
		Logger:     log,
		Metrics:    m,
	})

	// Scheduler that periodically refreshes the configured locations.
	sched := scheduler.New(cfg.Refresh.Locations, cfg.Refresh.Interval, service, log)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	app := httpapi.NewApp(serviceName, log)
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Service:     service,
		Hub:         hub,
		History:     history,
		Breakers:    breakers,
		Gatherer:    reg,
		ServiceName: serviceName,
		Hostname:    cfg.Hostname(),
		Heartbeat:   cfg.Station.Heartbeat,
		Logger:      log,
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting http server",
			slog.String("port", cfg.Port),
			slog.String("upstream", provider.Name()))
		serverErr <- app.Listen(":" + cfg.Port)
	}()

	// Wait for termination signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("http server stopped: %w", err)
	}
	log.Info("shutting down")

	// Ending every subscription lets open event streams return before the
	// server drains connections.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", slog.Any("error", err))
	}
	stopRecorder()
	return nil
}

func openHistory(cfg *config.AppConfig) (weather.Store, error) {
	switch cfg.History.Backend {
	case "sqlite":
		s, err := store.OpenSQLite(cfg.History.SQLitePath, cfg.History.MaxEvents, cfg.History.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		return s, nil
	default:
		return store.NewMemoryStore(cfg.History.MaxEvents, cfg.History.MaxAge), nil
	}
}
