package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/shared"
)

// Remote is the backend capability used to deliver queued writes.
type Remote interface {
	// CreatePost creates post remotely and returns the id the backend assigned.
	CreatePost(ctx context.Context, post models.OfflinePost) (string, error)

	// Replay sends payload to its endpoint.
	Replay(ctx context.Context, payload models.Payload) error

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// Unwrap maps the status code onto the shared error classes.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return shared.ErrNotAuthenticated
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= 500:
		return shared.ErrServiceUnavailable
	case e.StatusCode >= 400:
		return shared.ErrPermanent
	default:
		return shared.ErrAPIRequest
	}
}

// IsRetryable reports whether a failed delivery may succeed later without changes to the request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, shared.ErrPermanent) && !errors.Is(err, shared.ErrInvalidInput)
}

// RetryAfter returns the delay the backend asked for, if any.
func RetryAfter(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
