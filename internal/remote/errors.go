package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes the catalog reports in the errorCode field of failure bodies.
const (
	CodeItemNotFound      = "errors.com.epicgames.catalog.item_not_found"
	CodeTokenVerification = "errors.com.epicgames.common.authentication.token_verification_failed"
)

// Common errors returned by remote calls.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, remote.ErrNotFound) {
//	    // nothing to fetch
//	}
var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("remote resource not found")

	// ErrAuthExpired is returned when the bearer session was rejected.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrTransient is returned for failures that may succeed on retry:
	// network errors, 5xx responses and unexpected client errors.
	ErrTransient = errors.New("transient transport failure")

	// ErrExhaustedRetries is returned when a call failed on every attempt.
	ErrExhaustedRetries = errors.New("exhausted retries")
)

// APIError is a non-2xx response from a remote endpoint.
type APIError struct {
	URL       string
	Status    int
	ErrorCode string
	Message   string
	Body      []byte
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("GET %s: %d %s: %s", e.URL, e.Status, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Is maps the response onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound || e.ErrorCode == CodeItemNotFound
	case ErrAuthExpired:
		return e.Status == http.StatusUnauthorized || e.ErrorCode == CodeTokenVerification
	case ErrTransient:
		return !e.Is(ErrNotFound) && !e.Is(ErrAuthExpired)
	}
	return false
}

// ExhaustedError reports the last failure of a call that ran out of attempts.
type ExhaustedError struct {
	URL      string
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed to fetch data from %s after %d attempts: %v", e.URL, e.Attempts, e.Cause)
}

// Unwrap exposes both the sentinel and the last cause to errors.Is/As.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhaustedRetries, e.Cause}
}

// IsNotFound reports whether err means the resource does not exist.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}

// IsAuthExpired reports whether err means the session must be refreshed.
func IsAuthExpired(err error) bool {
	return err != nil && errors.Is(err, ErrAuthExpired)
}

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation is never retried
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrExhaustedRetries) || IsNotFound(err) {
		return false
	}

	return true
}

// IsFatal returns true if the error should abort the enclosing namespace.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrExhaustedRetries) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
