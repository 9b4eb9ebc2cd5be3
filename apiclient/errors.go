package apiclient

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials indicates the backend rejected the login
	// email/password pair. Not retryable without new input.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRefreshRejected indicates the backend rejected the refresh
	// token. Terminal for the session: all stored credentials must be
	// cleared.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrUnauthorized indicates a request's bearer token was rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// TransientError wraps a transport-level failure: the backend was never
// reached or did not produce a usable response. Callers may retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transport-level failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ValidationError carries field-level messages from a 422 response. The
// field→messages mapping is preserved verbatim so forms can render
// inline errors; it is never collapsed into a single string.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}
