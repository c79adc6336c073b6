package llms

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies completion service failures.
type ErrorKind string

const (
	KindRateLimit        ErrorKind = "rate_limit"
	KindAuth             ErrorKind = "auth"
	KindMalformedRequest ErrorKind = "malformed_request"
	KindUnavailable      ErrorKind = "unavailable"
	KindUnknown          ErrorKind = "unknown"
)

// ServiceError is returned by every Provider on failure.
type ServiceError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s completion failed (%s, HTTP %d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s completion failed (%s): %s", e.Provider, e.Kind, msg)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// KindForStatus maps an HTTP status to an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusRequestTimeout || status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindMalformedRequest
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether err is a transient service failure.
func IsRetryable(err error) bool {
	var se *ServiceError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == KindRateLimit || se.Kind == KindUnavailable
}
