package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorType classifies a failure. The platform failure classes drive session
// health transitions; the remaining types are surfaced to callers.
type ErrorType string

const (
	// Platform failure classes, handled inside the login loop
	ErrorTypeStaleSession      ErrorType = "stale_session"
	ErrorTypeChallengeRequired ErrorType = "challenge_required"
	ErrorTypeSoftRestriction   ErrorType = "soft_restriction"
	ErrorTypeCooldown          ErrorType = "cooldown"
	ErrorTypeUnclassified      ErrorType = "unclassified"

	// Terminal outcomes
	ErrorTypeNoSessionAvailable ErrorType = "no_session_available"
	ErrorTypeExhaustedRetries   ErrorType = "exhausted_retries"
	ErrorTypeSessionBlocked     ErrorType = "session_blocked"
	ErrorTypeCancelled          ErrorType = "cancelled"

	// Local failures
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeInvalidInput ErrorType = "invalid_input"
	ErrorTypeStorage      ErrorType = "storage"
	ErrorTypeInternal     ErrorType = "internal"
)

// Error is a typed failure. Code carries the HTTP status of the platform
// response when there was one.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error.
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Wrap creates a typed error around a cause.
func Wrap(t ErrorType, msg string, err error) *Error {
	return &Error{Type: t, Message: msg, Err: err}
}

// TypeOf returns the type of the first *Error in err's chain, or
// ErrorTypeUnclassified when there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnclassified
}

// Is reports whether err carries the given type anywhere in its chain.
func Is(err error, t ErrorType) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Type == t {
			return true
		}
		err = e.Err
	}
	return false
}

// IsPlatformFailure reports whether the type is one of the classes the login
// loop recovers from by changing sessions.
func IsPlatformFailure(t ErrorType) bool {
	switch t {
	case ErrorTypeStaleSession, ErrorTypeChallengeRequired, ErrorTypeSoftRestriction,
		ErrorTypeCooldown, ErrorTypeUnclassified:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether err ends a fetch without further attempts.
func IsTerminal(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeNoSessionAvailable, ErrorTypeExhaustedRetries, ErrorTypeCancelled,
		ErrorTypeSessionBlocked, ErrorTypeInvalidInput, ErrorTypeNotFound:
		return true
	default:
		return false
	}
}

// Code returns the machine-readable code reported to API callers.
func Code(err error) string {
	switch t := TypeOf(err); t {
	case ErrorTypeNoSessionAvailable:
		return "NO_SESSION"
	case ErrorTypeUnclassified:
		return "INTERNAL"
	default:
		return strings.ToUpper(string(t))
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a transient
// transport problem worth a local retry on the same session.
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0:
		return true
	case 502, 503, 504:
		return true
	default:
		return false
	}
}
