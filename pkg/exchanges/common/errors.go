package common

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUpstreamUnavailable marks network, auth, throttling and server-side failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNoPosition is returned when a close targets an instrument with no open units.
	ErrNoPosition = errors.New("no open position")
)

// APIError is a non-2xx answer from the venue.
type APIError struct {
	Status  int
	Code    string
	Message string
	Path    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker %s: http %d %s: %s", e.Path, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("broker %s: http %d: %s", e.Path, e.Status, e.Message)
}

// Unwrap classifies the status so callers can match with errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden,
		e.Status == http.StatusNotFound, e.Status == http.StatusTooManyRequests,
		e.Status >= 500:
		return ErrUpstreamUnavailable
	}
	return nil
}

// Retryable reports whether the error class is worth a backoff-and-retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// Unavailable wraps a transport failure as ErrUpstreamUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUpstreamUnavailable, err)
}
