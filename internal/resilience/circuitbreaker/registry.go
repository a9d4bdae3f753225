package circuitbreaker

import (
	"sync"
)

// Registry hands out one Breaker per upstream target.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*Breaker
	base     Config
}

// NewRegistry creates a registry; every breaker copies base with its own name.
func NewRegistry(base Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		base:     base,
	}
}

// Get returns the breaker for target, creating it on first use.
func (r *Registry) Get(target string) *Breaker {
	r.mutex.RLock()
	cb, exists := r.breakers[target]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[target]; exists {
		return cb
	}

	cfg := r.base
	cfg.Name = target
	cb = New(cfg)
	r.breakers[target] = cb
	return cb
}

// Stats returns a snapshot of every breaker keyed by target.
func (r *Registry) Stats() map[string]Snapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]Snapshot, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.Snapshot()
	}
	return stats
}
