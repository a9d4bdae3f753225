// Package broadcast fans weather events out to live subscribers.
//
// Publish delivers to a snapshot of the registry taken at call time, so
// concurrent Register/Unregister never race with an in-progress delivery.
// Every send is non-blocking: each subscription owns a bounded buffer, and a
// subscription that is closed or whose buffer is full counts as a delivery
// failure and is removed. Publish never reports errors to its caller.
package broadcast

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/i474232898/weather-station/internal/metrics"
	"github.com/i474232898/weather-station/internal/weather"
)

// DefaultBuffer is the per-subscription event buffer size.
const DefaultBuffer = 16

var (
	// ErrSubscriptionClosed is a delivery to a closed subscription.
	ErrSubscriptionClosed = errors.New("subscription closed")
	// ErrSlowSubscriber is a delivery to a subscription whose buffer is full.
	ErrSlowSubscriber = errors.New("subscriber buffer full")
)

// Subscription is one registered consumer of weather events.
type Subscription struct {
	id        string
	events    chan weather.WeatherEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(buffer int) *Subscription {
	return &Subscription{
		id:     uuid.NewString(),
		events: make(chan weather.WeatherEvent, buffer),
		done:   make(chan struct{}),
	}
}

// ID is unique per subscription.
func (s *Subscription) ID() string { return s.id }

// Events yields delivered events. It is never closed; select on Done as well.
func (s *Subscription) Events() <-chan weather.WeatherEvent { return s.events }

// Done is closed once the subscription is closed or removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close marks the subscription as broken, e.g. after its transport failed.
// The broadcaster drops it on the next publish. Close is idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Closed reports whether Close has been called.
func (s *Subscription) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) deliver(ev weather.WeatherEvent) error {
	if s.Closed() {
		return ErrSubscriptionClosed
	}
	select {
	case s.events <- ev:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

// Option customizes a Broadcaster.
type Option func(*Broadcaster)

// WithBuffer sets the per-subscription buffer size.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(b *Broadcaster) {
		if log != nil {
			b.log = log
		}
	}
}

// WithMetrics records subscriber counts and delivery failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// Broadcaster is the fan-out hub. The zero value is not usable; use New.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	closed  bool
	buffer  int
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New creates an empty broadcaster.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:   make(map[string]*Subscription),
		buffer: DefaultBuffer,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a new subscription. Registering on a closed broadcaster
// returns an already closed subscription.
func (b *Broadcaster) Register() *Subscription {
	sub := newSubscription(b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.Close()
		return sub
	}
	b.subs[sub.id] = sub
	count := len(b.subs)
	b.metrics.SetSubscribers(count)
	b.mu.Unlock()

	b.log.Info("registered event subscriber",
		slog.String("subscriber", sub.id),
		slog.Int("subscribers", count))
	return sub
}

// Unregister removes and closes sub. Unknown or already removed
// subscriptions are ignored.
func (b *Broadcaster) Unregister(sub *Subscription) {
	if sub == nil {
		return
	}
	if b.remove(sub) {
		b.log.Info("unregistered event subscriber",
			slog.String("subscriber", sub.id),
			slog.Int("subscribers", b.Len()))
	}
	sub.Close()
}

// Publish delivers ev to every subscription registered at call time.
func (b *Broadcaster) Publish(ev weather.WeatherEvent) {
	b.mu.RLock()
	snapshot := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	b.metrics.RecordPublished()

	for _, sub := range snapshot {
		err := sub.deliver(ev)
		if err == nil {
			continue
		}

		reason := "closed"
		if errors.Is(err, ErrSlowSubscriber) {
			reason = "slow"
		}
		b.metrics.RecordDeliveryFailure(reason)

		if b.remove(sub) {
			b.log.Warn("dropping event subscriber",
				slog.String("subscriber", sub.id),
				slog.String("reason", reason),
				slog.Int("subscribers", b.Len()))
		}
		sub.Close()
	}
}

// Len returns the number of registered subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Closed reports whether Close has been called.
func (b *Broadcaster) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close removes and closes every subscription; later registrations are
// closed immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.closed = true
	b.metrics.SetSubscribers(0)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (b *Broadcaster) remove(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return false
	}
	delete(b.subs, sub.id)
	b.metrics.SetSubscribers(len(b.subs))
	return true
}
