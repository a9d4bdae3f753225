package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// State is the breaker state as reported by gobreaker.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

var (
	// ErrOpen is returned by Allow while the breaker is open and the
	// cool-down has not elapsed.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned by Allow while half-open and the single
	// probe call has not resolved yet.
	ErrProbeInFlight = errors.New("circuit breaker half-open probe in flight")
)

// IsRejected reports whether err means the call was never attempted.
func IsRejected(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrProbeInFlight)
}

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name identifies the upstream target in logs and metrics.
	Name string
	// FailureRatio trips the breaker when failures/total in the window reaches it.
	FailureRatio float64
	// MinRequests is the minimum number of outcomes in the window before
	// the ratio is evaluated.
	MinRequests uint32
	// Window is the number of most recent outcomes considered. It is raised
	// to MinRequests when smaller, otherwise the breaker could never trip.
	Window int
	// Delay is how long the breaker stays open before admitting a probe.
	Delay time.Duration
	// OnStateChange is called after every transition, under the breaker lock.
	OnStateChange func(name string, from, to State)
	// Logger receives transition logs; nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig mirrors the thresholds the weather lookups were tuned with:
// 75% failures over the last 10 calls opens the circuit for 10 seconds.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		FailureRatio: 0.75,
		MinRequests:  10,
		Window:       10,
		Delay:        10 * time.Second,
	}
}

// Breaker guards one upstream target.
type Breaker struct {
	name       string
	cb         *gobreaker.TwoStepCircuitBreaker
	window     *window
	rejections atomic.Int64
}

// New creates a breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	if cfg.Window < int(cfg.MinRequests) {
		cfg.Window = int(cfg.MinRequests)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	b := &Breaker{
		name:   cfg.Name,
		window: newWindow(cfg.Window),
	}

	settings := gobreaker.Settings{
		Name: cfg.Name,
		// A single probe is admitted while half-open; one success closes.
		MaxRequests: 1,
		// Closed-state counts are never cleared on a timer; the rolling window
		// below decides when to trip.
		Interval: 0,
		Timeout:  cfg.Delay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failures, total := b.window.recordFailure(counts.TotalSuccesses)
			if total < int(cfg.MinRequests) {
				return false
			}
			return float64(failures)/float64(total) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.window.reset()
			log.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(settings)
	return b
}

// Allow asks to make one call. On success the caller must invoke done exactly
// once with the aggregate outcome of the call. A rejected call returns
// ErrOpen or ErrProbeInFlight and must not be attempted.
func (b *Breaker) Allow() (done func(success bool), err error) {
	done, err = b.cb.Allow()
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		b.rejections.Add(1)
		return nil, ErrOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		b.rejections.Add(1)
		return nil, ErrProbeInFlight
	case err != nil:
		return nil, err
	}
	return done, nil
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports half-open.
func (b *Breaker) State() State {
	return b.cb.State()
}

// Name returns the upstream target name.
func (b *Breaker) Name() string {
	return b.name
}

// Rejections counts calls refused without reaching the upstream.
func (b *Breaker) Rejections() int64 {
	return b.rejections.Load()
}

// Snapshot is a point-in-time view for health reporting.
type Snapshot struct {
	State      string `json:"state"`
	Rejections int64  `json:"rejections"`
}

// Snapshot returns the breaker state and rejection count.
func (b *Breaker) Snapshot() Snapshot {
	return Snapshot{
		State:      b.State().String(),
		Rejections: b.Rejections(),
	}
}

// window is a ring of the most recent call outcomes.
//
// gobreaker only hands cumulative counts to ReadyToTrip, and only on failure.
// Every success between two failures is therefore the delta of
// TotalSuccesses since the previous callback; replaying those deltas keeps the
// ring in exact call order. Both callbacks run under gobreaker's mutex, the
// ring's own lock only protects reads from outside.
type window struct {
	mu            sync.Mutex
	outcomes      []bool // true = failure
	next          int
	filled        int
	seenSuccesses uint32
}

func newWindow(size int) *window {
	return &window{outcomes: make([]bool, size)}
}

func (w *window) push(failure bool) {
	w.outcomes[w.next] = failure
	w.next = (w.next + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}
}

// recordFailure replays the successes observed since the last call, appends
// one failure and returns the failures and total outcomes in the window.
func (w *window) recordFailure(totalSuccesses uint32) (failures, total int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := int(totalSuccesses - w.seenSuccesses)
	if pending > len(w.outcomes) {
		pending = len(w.outcomes)
	}
	for i := 0; i < pending; i++ {
		w.push(false)
	}
	w.seenSuccesses = totalSuccesses
	w.push(true)

	for i := 0; i < w.filled; i++ {
		if w.outcomes[i] {
			failures++
		}
	}
	return failures, w.filled
}

func (w *window) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.outcomes {
		w.outcomes[i] = false
	}
	w.next = 0
	w.filled = 0
	w.seenSuccesses = 0
}
