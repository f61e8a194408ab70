package receipt

import (
	"fmt"
	"net/http"
)

// Error codes surfaced across the HTTP boundary.
const (
	CodeConsentRequired = "AI_CONSENT_REQUIRED"
	CodeForbidden       = "FORBIDDEN"
	CodeRateLimit       = "RATE_LIMIT_EXCEEDED"
	CodeTimeout         = "PROCESSING_TIMEOUT"
	CodeValidation      = "VALIDATION_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
)

// Error is a pipeline failure carrying a stable error code. Steps raise it
// and never catch it; the HTTP boundary maps codes to statuses.
type Error struct {
	Err  error
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a coded pipeline error.
func NewError(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// WrapError creates a coded pipeline error wrapping a cause.
func WrapError(code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// HTTPStatus maps an error code to its boundary status: 403 for consent and
// ownership, 429 for rate limiting, 400 for validation, 500 otherwise.
func HTTPStatus(code string) int {
	switch code {
	case CodeConsentRequired, CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
