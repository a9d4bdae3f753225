package weather

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, refused or reset
	// connections, 5xx, 429 and 408 responses.
	ErrTransient = errors.New("transient upstream failure")
	// ErrPermanent marks failures a retry cannot fix: other 4xx responses,
	// unparsable bodies, missing credentials.
	ErrPermanent = errors.New("permanent upstream failure")
)

// UpstreamError is returned by providers for any failed call.
type UpstreamError struct {
	Kind       error // ErrTransient or ErrPermanent
	StatusCode int   // 0 when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *UpstreamError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Transient wraps err as a retryable upstream failure.
func Transient(status int, err error) error {
	return &UpstreamError{Kind: ErrTransient, StatusCode: status, Err: err}
}

// Permanent wraps err as a non-retryable upstream failure.
func Permanent(status int, err error) error {
	return &UpstreamError{Kind: ErrPermanent, StatusCode: status, Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
