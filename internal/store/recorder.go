package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/i474232898/weather-station/internal/broadcast"
	"github.com/i474232898/weather-station/internal/weather"
)

const saveTimeout = 5 * time.Second

// Recorder subscribes to the station like any other listener and writes
// every event it receives to a store.
type Recorder struct {
	store weather.Store
	log   *slog.Logger
}

func NewRecorder(store weather.Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, log: log}
}

// Start runs the recorder in the background. The returned stop cancels it
// and blocks until the last save has returned, so the store can be closed
// right after. stop may be called more than once.
func (r *Recorder) Start(ctx context.Context, hub *broadcast.Broadcaster) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, hub)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Run records events until ctx is cancelled or hub is closed. If the hub
// drops the recorder's subscription it registers again.
func (r *Recorder) Run(ctx context.Context, hub *broadcast.Broadcaster) {
	for ctx.Err() == nil && !hub.Closed() {
		sub := hub.Register()
		r.drain(ctx, sub)
		hub.Unregister(sub)
	}
}

func (r *Recorder) drain(ctx context.Context, sub *broadcast.Subscription) {
	for {
		select {
		case ev := <-sub.Events():
			r.save(ev)
		case <-sub.Done():
			r.flush(sub)
			return
		case <-ctx.Done():
			r.flush(sub)
			return
		}
	}
}

// flush saves whatever was buffered before the subscription ended.
func (r *Recorder) flush(sub *broadcast.Subscription) {
	for {
		select {
		case ev := <-sub.Events():
			r.save(ev)
		default:
			return
		}
	}
}

func (r *Recorder) save(ev weather.WeatherEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := r.store.SaveEvent(ctx, ev); err != nil {
		r.log.Error("failed to record weather event",
			slog.String("subject", ev.Subject),
			slog.Any("error", err))
	}
}
