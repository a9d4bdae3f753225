package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/i474232898/weather-station/internal/common"
	"github.com/i474232898/weather-station/internal/weather"
)

const maxBodyBytes = 1 << 20

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
	errMalformed   = errors.New("malformed response")
)

// checkStatus maps non-2xx responses to classified upstream errors.
// 5xx, 429 and 408 are transient; every other non-2xx status is permanent.
func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return weather.Transient(code, errRateLimited)
	case code == http.StatusRequestTimeout:
		return weather.Transient(code, fmt.Errorf("%w: %d", errUnexpected, code))
	case code >= 500:
		return weather.Transient(code, errServerError)
	default:
		return weather.Permanent(code, fmt.Errorf("%w: %d", errUnexpected, code))
	}
}

// classifyTransportError decides whether a failure below HTTP is retryable.
// Timeouts and broken connections are transient; anything else (bad URL,
// TLS misconfiguration) is permanent.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return weather.Transient(0, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return weather.Transient(0, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return weather.Transient(0, err)
	}

	// Some resets only surface as text once wrapped by net/http.
	if common.HasAny(err.Error(), "connection reset", "connection refused", "broken pipe", "server closed idle connection") {
		return weather.Transient(0, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return weather.Transient(0, err)
	}

	return weather.Permanent(0, err)
}

// getBody performs one GET against u and returns the (size-limited) body of a
// 2xx response. Failures come back classified as transient or permanent.
func getBody(ctx context.Context, client *http.Client, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, weather.Permanent(0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, resp.StatusCode, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, classifyTransportError(err)
	}
	return body, resp.StatusCode, nil
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
