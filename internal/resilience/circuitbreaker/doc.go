// Package circuitbreaker guards calls to upstream weather APIs.
//
// A breaker has three states:
//
//   - CLOSED: calls pass through; the last N outcomes are kept in a rolling window
//   - OPEN: the failure ratio crossed its threshold, calls are rejected
//   - HALF-OPEN: the cool-down elapsed, exactly one probe call is admitted
//
// The state machine is github.com/sony/gobreaker in its two-step form, so the
// gate (Allow) and the outcome (done) can sit on either side of a retry loop.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(""))
//	cb := registry.Get("openweathermap")
//	done, err := cb.Allow()
//	if err != nil {
//	    // rejected, serve a fallback
//	}
//	done(callErr == nil)
package circuitbreaker
