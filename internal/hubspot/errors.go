package hubspot

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a non-2xx upstream response that was not retried away.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Category   string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("%s %s: http %d %s: %s", e.Method, e.Path, e.StatusCode, e.Category, e.Message)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// NotFound reports whether the upstream answered 404.
func (e *HTTPError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Transient reports whether the status is worth retrying.
func (e *HTTPError) Transient() bool {
	return isTransient(e.StatusCode)
}

// IsNotFound reports whether err wraps a 404 HTTPError.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.NotFound()
}

// StatusCode returns the upstream status wrapped in err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

func isTransient(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
