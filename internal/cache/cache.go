// Package cache keeps the last successful weather result per lookup key.
//
// Entries are valid until the earlier of TTL expiry and LRU eviction under
// the configured capacity. Staleness is checked on every read; the underlying
// expirable LRU also scavenges expired entries in the background.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/i474232898/weather-station/internal/weather"
)

// Entry is a stored result and the time it was written.
type Entry struct {
	Key      string
	Value    weather.WeatherResult
	StoredAt time.Time
}

// Option customizes a ResultCache.
type Option func(*ResultCache)

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// ResultCache is safe for concurrent use. Concurrent writers to the same key
// resolve as last-writer-wins; readers never see a partially written entry.
type ResultCache struct {
	lru *expirable.LRU[string, Entry]
	ttl time.Duration
	now func() time.Time
}

// New creates a cache holding at most capacity entries for at most ttl.
// capacity <= 0 means unbounded; ttl <= 0 means entries never expire.
//
// The expirable LRU starts a scavenger goroutine that is never stopped, so a
// ResultCache is meant to live as long as the process.
func New(capacity int, ttl time.Duration, opts ...Option) *ResultCache {
	if capacity < 0 {
		capacity = 0
	}
	c := &ResultCache{
		lru: expirable.NewLRU[string, Entry](capacity, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *ResultCache) Get(key string) (weather.WeatherResult, bool) {
	e, ok := c.Entry(key)
	if !ok {
		return weather.WeatherResult{}, false
	}
	return e.Value, true
}

// Entry returns the full cache entry for key if present and not expired.
// Expired entries are left in place for the background scavenger.
func (c *ResultCache) Entry(key string) (Entry, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return Entry{}, false
	}
	if c.ttl > 0 && c.now().Sub(e.StoredAt) >= c.ttl {
		return Entry{}, false
	}
	return e, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *ResultCache) Put(key string, value weather.WeatherResult) {
	c.lru.Add(key, Entry{
		Key:      key,
		Value:    value,
		StoredAt: c.now(),
	})
}

// Len returns the number of entries physically held, expired or not.
func (c *ResultCache) Len() int {
	return c.lru.Len()
}
