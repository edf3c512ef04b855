package remote

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Error Types
// =============================================================================

// TransportError is returned when a request could not be completed at all
// (connection refused, DNS failure, deadline).
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap exposes the transport kind and the cause.
func (e *TransportError) Unwrap() []error {
	return []error{domain.ErrTransport, e.Err}
}

// StatusError is a response with a non-success status code.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Reason     string
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.Path, e.StatusCode, e.Reason)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap lets errors.Is(err, domain.ErrTransport) match.
func (e *StatusError) Unwrap() error {
	return domain.ErrTransport
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
