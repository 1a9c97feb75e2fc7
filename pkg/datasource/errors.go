package datasource

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSourceUnavailable is wrapped by every error a Client returns. The sync
// stage treats it as fatal for the current operation.
var ErrSourceUnavailable = errors.New("data source unavailable")

// StatusError represents a non-200 response from the provider
type StatusError struct {
	Resource   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: provider returned status %d: %s", e.Resource, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: provider returned status %d", e.Resource, e.StatusCode)
}

// Temporary reports whether the status is worth retrying
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// permanentError marks failures that must not be retried (decode errors,
// envelope failures, 4xx).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	// Transport errors (refused, reset, timeouts) are transient.
	return true
}
