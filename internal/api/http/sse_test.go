package httpapi

import (
	"bufio"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-station/internal/broadcast"
	"github.com/i474232898/weather-station/internal/weather"
)

// readFrame reads one SSE frame (lines up to the blank separator).
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		frame string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		var b strings.Builder
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				ch <- result{b.String(), err}
				return
			}
			if line == "\n" {
				ch <- result{b.String(), nil}
				return
			}
			b.WriteString(line)
		}
	}()

	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return ""
	}
}

func startStream(t *testing.T, hub *broadcast.Broadcaster, heartbeat time.Duration) (*broadcast.Subscription, *bufio.Reader, *io.PipeReader, chan error) {
	t.Helper()
	pr, pw := io.Pipe()
	sub := hub.Register()
	done := make(chan error, 1)
	go func() {
		done <- streamEvents(bufio.NewWriter(pw), sub, heartbeat)
		_ = pw.Close()
	}()
	return sub, bufio.NewReader(pr), pr, done
}

func TestStreamEvents_FramesEvents(t *testing.T) {
	hub := broadcast.New()
	_, r, _, _ := startStream(t, hub, time.Hour)

	assert.Equal(t, ": connected\n", readFrame(t, r))

	hub.Publish(weather.WeatherEvent{Subject: "Berlin", Condition: "Clouds", ProducedAt: fixedNow})
	assert.Equal(t, "event: event\ndata: {\"subject\":\"Berlin\",\"condition\":\"Clouds\"}\n", readFrame(t, r))

	hub.Publish(weather.WeatherEvent{Subject: "Paris", Condition: "Rain", ProducedAt: fixedNow})
	assert.Equal(t, "event: event\ndata: {\"subject\":\"Paris\",\"condition\":\"Rain\"}\n", readFrame(t, r))
}

func TestStreamEvents_Heartbeat(t *testing.T) {
	hub := broadcast.New()
	_, r, _, _ := startStream(t, hub, 20*time.Millisecond)

	readFrame(t, r)
	assert.Equal(t, ": heartbeat\n", readFrame(t, r))
}

func TestStreamEvents_EndsWhenClientGoesAway(t *testing.T) {
	hub := broadcast.New()
	_, r, pr, done := startStream(t, hub, 20*time.Millisecond)
	readFrame(t, r)

	_ = pr.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not notice the closed connection")
	}
}

func TestStreamEvents_EndsWhenUnregistered(t *testing.T) {
	hub := broadcast.New()
	sub, r, _, done := startStream(t, hub, time.Hour)
	readFrame(t, r)

	hub.Unregister(sub)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, broadcast.ErrSubscriptionClosed)
	case <-time.After(time.Second):
		t.Fatal("stream did not end after unregister")
	}
	assert.Zero(t, hub.Len())
}
