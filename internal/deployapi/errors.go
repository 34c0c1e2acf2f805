// Package deployapi provides an HTTP client for the hosting platform's
// deployment API with automatic retry, bearer authentication, and error
// classification.
package deployapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, deployapi.ErrNotFound) to check.
var (
	ErrBadRequest    = errors.New("deployapi: bad request")
	ErrUnauthorized  = errors.New("deployapi: unauthorized")
	ErrForbidden     = errors.New("deployapi: forbidden")
	ErrNotFound      = errors.New("deployapi: not found")
	ErrConflict      = errors.New("deployapi: conflict")
	ErrUnprocessable = errors.New("deployapi: unprocessable entity")
	ErrTooLarge      = errors.New("deployapi: payload too large")
	ErrThrottled     = errors.New("deployapi: throttled")
	ErrServerError   = errors.New("deployapi: server error")

	// ErrSyncRejected is returned when the service answers an incremental
	// sync with success=false.
	ErrSyncRejected = errors.New("deployapi: sync rejected")

	// ErrUploadRejected is returned when the service answers an archive
	// upload with success=false.
	ErrUploadRejected = errors.New("deployapi: archive upload rejected")
)

// APIError wraps a sentinel error with HTTP status code, request ID,
// and the API error message body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("deployapi: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("deployapi: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
