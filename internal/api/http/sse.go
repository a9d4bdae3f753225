package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/i474232898/weather-station/internal/broadcast"
	"github.com/i474232898/weather-station/internal/weather"
)

// stationEventName is the SSE event name every weather frame carries.
const stationEventName = "event"

// stationPayload is the data line of a weather frame.
type stationPayload struct {
	Subject   string `json:"subject"`
	Condition string `json:"condition"`
}

func (h *handler) stream(c *fiber.Ctx) error {
	if h.Hub == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "event stream is not enabled")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := h.Hub.Register()
	log := h.Logger.With(slog.String("subscriber", sub.ID()))
	heartbeat := h.Heartbeat

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.Hub.Unregister(sub)
		if err := streamEvents(w, sub, heartbeat); err != nil {
			log.Debug("event stream ended", slog.Any("reason", err))
		}
	}))
	return nil
}

// streamEvents writes sub's events to w until the subscription ends or a
// write fails. A comment line goes out every heartbeat so dead connections
// surface as write errors.
func streamEvents(w *bufio.Writer, sub *broadcast.Subscription, heartbeat time.Duration) error {
	if err := writeComment(w, "connected"); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-sub.Events():
			if err := writeEvent(w, ev); err != nil {
				return err
			}
		case <-ticker.C:
			if err := writeComment(w, "heartbeat"); err != nil {
				return err
			}
		case <-sub.Done():
			return broadcast.ErrSubscriptionClosed
		}
	}
}

func writeEvent(w *bufio.Writer, ev weather.WeatherEvent) error {
	data, err := json.Marshal(stationPayload{Subject: ev.Subject, Condition: ev.Condition})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", stationEventName, data); err != nil {
		return err
	}
	return w.Flush()
}

func writeComment(w *bufio.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	return w.Flush()
}
