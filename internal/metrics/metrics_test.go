package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordLookup("cache")
	m.RecordLookup("cache")
	m.RecordLookup("fallback")
	m.RecordAttempt("openweathermap", "transient", 20*time.Millisecond)
	m.RecordRejection("openweathermap")
	m.SetBreakerState("openweathermap", "open")
	m.SetSubscribers(3)
	m.RecordPublished()
	m.RecordDeliveryFailure("closed")

	if got := testutil.ToFloat64(m.LookupsTotal.WithLabelValues("cache")); got != 2 {
		t.Errorf("expected 2 cache lookups, got %v", got)
	}
	if got := testutil.ToFloat64(m.LookupsTotal.WithLabelValues("fallback")); got != 1 {
		t.Errorf("expected 1 fallback lookup, got %v", got)
	}
	if got := testutil.ToFloat64(m.UpstreamAttemptsTotal.WithLabelValues("openweathermap", "transient")); got != 1 {
		t.Errorf("expected 1 transient attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.BreakerRejectionsTotal.WithLabelValues("openweathermap")); got != 1 {
		t.Errorf("expected 1 rejection, got %v", got)
	}
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("openweathermap")); got != 2 {
		t.Errorf("expected open state (2), got %v", got)
	}
	if got := testutil.ToFloat64(m.StationSubscribers); got != 3 {
		t.Errorf("expected 3 subscribers, got %v", got)
	}
	if got := testutil.ToFloat64(m.EventsPublishedTotal); got != 1 {
		t.Errorf("expected 1 published event, got %v", got)
	}
	if got := testutil.ToFloat64(m.DeliveryFailuresTotal.WithLabelValues("closed")); got != 1 {
		t.Errorf("expected 1 delivery failure, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordLookup("cache")
	m.RecordAttempt("x", "success", time.Millisecond)
	m.RecordRejection("x")
	m.SetBreakerState("x", "closed")
	m.SetSubscribers(1)
	m.RecordPublished()
	m.RecordDeliveryFailure("slow")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
