package crawler

import (
	"errors"
	"fmt"
)

// ErrUnexpectedStatus is returned, wrapped in a *StatusError, when a fetch
// completes with a non-2xx status code.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// StatusError reports a non-2xx response for URL.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %d for %s", ErrUnexpectedStatus, e.StatusCode, e.URL)
}

// Unwrap lets errors.Is match ErrUnexpectedStatus.
func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// IsSuccess reports whether code is a 2xx status.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
