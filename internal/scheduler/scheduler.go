package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/weather-station/internal/weather"
)

const (
	defaultInterval = 15 * time.Minute
	jobTimeout      = 30 * time.Second
	parallelism     = 4
)

// Refresher is the part of weather.Service the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context, key string) (weather.WeatherResult, weather.Origin)
}

// Summary counts the outcomes of one refresh round.
type Summary struct {
	Refreshed int
	Fallbacks int
}

// Scheduler periodically refreshes the configured locations so the station
// keeps publishing events without inbound traffic.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Refresher
	locations []string
	interval  time.Duration
	log       *slog.Logger
}

// New creates a new Scheduler.
func New(locations []string, interval time.Duration, service Refresher, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   service,
		locations: locations,
		interval:  interval,
		log:       log.With(slog.String("component", "scheduler")),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first round runs immediately.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		s.log.Info("no locations configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.log.Info("scheduled weather refresh",
		slog.Duration("interval", s.interval),
		slog.Int("locations", len(s.locations)))
	return nil
}

// RunOnce refreshes every location once, a few at a time.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	s.log.Debug("running weather refresh job")

	var refreshed, fallbacks atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, loc := range s.locations {
		loc := loc
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, origin := s.service.Refresh(gctx, loc)
			if origin == weather.OriginFallback {
				fallbacks.Add(1)
				s.log.Warn("refresh served fallback", slog.String("subject", loc))
				return nil
			}
			refreshed.Add(1)
			s.log.Debug("refreshed weather",
				slog.String("subject", loc),
				slog.String("condition", res.Condition))
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Refreshed: int(refreshed.Load()), Fallbacks: int(fallbacks.Load())}
	s.log.Info("completed weather refresh job",
		slog.Int("refreshed", summary.Refreshed),
		slog.Int("fallbacks", summary.Fallbacks))
	return summary
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
