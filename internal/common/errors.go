package common

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the chat, presence and event layers.
// Callers wrap these with fmt.Errorf("...: %w") and match with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrConcurrencyConflict = errors.New("concurrent modification")
	ErrTransientDelivery   = errors.New("transient delivery failure")
)

// Invalid wraps ErrValidation with a human readable reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ErrorCode maps an error onto the short code sent to realtime clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	default:
		return "internal"
	}
}
