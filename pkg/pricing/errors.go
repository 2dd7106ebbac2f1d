package pricing

import (
	"errors"
	"fmt"
)

// Error codes returned across the core boundary. Codes are stable and
// machine-readable; messages are for humans and never include provider
// response bodies.
const (
	CodePricingUnavailable = "PricingUnavailable"
	CodeInvalidRequest     = "InvalidRequest"
	CodeSolverFailure      = "SolverFailure"
	CodeAuthFailed         = "AuthFailed"
	CodeStale              = "Stale"
	CodeParseError         = "ParseError"
)

// Error carries a stable code alongside a human message and an optional cause.
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds an Error with a formatted message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error around a cause.
func WrapError(code string, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf extracts the stable code from err, or "" when err carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given stable code.
func IsCode(err error, code string) bool { return CodeOf(err) == code }
