package circuitbreaker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_SameTargetSameBreaker(t *testing.T) {
	r := NewRegistry(testConfig())

	a := r.Get("openweathermap")
	b := r.Get("openweathermap")
	c := r.Get("other")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "other", c.Name())
}

func TestRegistry_BreakersAreIndependent(t *testing.T) {
	r := NewRegistry(testConfig())

	failing := r.Get("failing")
	healthy := r.Get("healthy")
	trip(t, failing)

	stats := r.Stats()
	assert.Len(t, stats, 2)
	assert.Equal(t, "open", stats["failing"].State)
	assert.Equal(t, "closed", stats["healthy"].State)
	assert.Equal(t, StateClosed, healthy.State())
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	r := NewRegistry(testConfig())

	const goroutines = 64
	got := make([]*Breaker, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			got[i] = r.Get("openweathermap")
		}(i)
	}
	wg.Wait()

	for _, b := range got {
		assert.Same(t, got[0], b)
	}
	assert.Len(t, r.Stats(), 1)
}
