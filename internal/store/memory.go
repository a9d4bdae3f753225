package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/i474232898/weather-station/internal/weather"
)

var (
	// ErrNotFound is returned when no events are recorded for a subject.
	ErrNotFound = errors.New("no weather data for subject")
)

var _ weather.Store = (*MemoryStore)(nil)

// eventHistory holds a time-ordered list of events for one subject.
type eventHistory struct {
	events []weather.WeatherEvent
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: subject, value: history
	data map[string]*eventHistory

	// retention configuration
	maxHistory int           // max number of events per subject
	maxAge     time.Duration // optional max age for events

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited; so is maxAge.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*eventHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveEvent appends ev to its subject's history and enforces retention.
// Events arriving out of order are inserted at their timestamp.
func (s *MemoryStore) SaveEvent(ctx context.Context, ev weather.WeatherEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[ev.Subject]
	if !ok {
		history = &eventHistory{}
		s.data[ev.Subject] = history
	}

	i := len(history.events)
	for i > 0 && history.events[i-1].ProducedAt.After(ev.ProducedAt) {
		i--
	}
	history.events = append(history.events, weather.WeatherEvent{})
	copy(history.events[i+1:], history.events[i:])
	history.events[i] = ev

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.events) > s.maxHistory {
		over := len(history.events) - s.maxHistory
		history.events = history.events[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		j := 0
		for ; j < len(history.events); j++ {
			if !history.events[j].ProducedAt.Before(cutoff) {
				break
			}
		}
		history.events = history.events[j:]
	}

	if len(history.events) == 0 {
		delete(s.data, ev.Subject)
	}
	return nil
}

// GetLatest returns the most recent event for subject.
func (s *MemoryStore) GetLatest(ctx context.Context, subject string) (weather.WeatherEvent, error) {
	if err := ctx.Err(); err != nil {
		return weather.WeatherEvent{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[subject]
	if !ok || len(history.events) == 0 {
		return weather.WeatherEvent{}, ErrNotFound
	}
	return history.events[len(history.events)-1], nil
}

// GetRange returns all events for subject between from and to (inclusive),
// oldest first.
func (s *MemoryStore) GetRange(ctx context.Context, subject string, from, to time.Time) ([]weather.WeatherEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[subject]
	if !ok || len(history.events) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.WeatherEvent
	for _, ev := range history.events {
		if !ev.ProducedAt.Before(from) && !ev.ProducedAt.After(to) {
			result = append(result, ev)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
