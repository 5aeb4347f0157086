package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Sentinels classifying lookup failures. The HTTP layer maps them to status codes.
var (
	ErrInvalidInput    = eris.New("invalid input")
	ErrServiceNotFound = eris.New("service not found")
	ErrNotFound        = eris.New("not found")
	ErrUpstream        = eris.New("upstream failure")
)

// LookupError is a classified lookup failure with a user-facing message and
// the request context needed to act on it.
type LookupError struct {
	Kind    error
	Message string
	Details map[string]any
	Cause   error
}

func (e *LookupError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the classifying sentinel and the underlying cause.
func (e *LookupError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Fail builds a LookupError. details may be nil.
func Fail(kind error, message string, details map[string]any) *LookupError {
	return &LookupError{Kind: kind, Message: message, Details: details}
}

// Upstream builds an ErrUpstream LookupError wrapping cause.
func Upstream(message string, cause error, details map[string]any) *LookupError {
	return &LookupError{Kind: ErrUpstream, Message: message, Details: details, Cause: cause}
}

// AsLookupError extracts a LookupError from err's chain.
func AsLookupError(err error) (*LookupError, bool) {
	var le *LookupError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsNotFound reports whether err is a not-found or service-not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrServiceNotFound)
}
