package scanning

import "fmt"

// Kind classifies a model provider failure.
type Kind int

const (
	// KindValidation covers malformed requests, schema mismatches and
	// unparseable structured payloads. Never retried.
	KindValidation Kind = iota
	// KindAuthentication covers bad or expired credentials. Never retried.
	KindAuthentication
	// KindRateLimit covers provider throttling. Retried.
	KindRateLimit
	// KindTimeout covers an attempt exceeding the configured bound. Never
	// retried.
	KindTimeout
	// KindNetwork covers transport failures such as DNS or connection
	// errors. Retried.
	KindNetwork
	// KindAPI covers any other non-2xx provider response. Retried.
	KindAPI
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	default:
		return "api"
	}
}

// Error is a classified model provider failure.
type Error struct {
	Err    error
	Msg    string
	Kind   Kind
	Status int // HTTP status when the provider answered, zero otherwise
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed. Authentication,
// validation and timeout failures are final.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindNetwork, KindAPI:
		return true
	default:
		return false
	}
}

// classifyStatus maps a non-2xx provider status to an error kind.
func classifyStatus(status int, body string) *Error {
	var kind Kind
	switch {
	case status == 401 || status == 403:
		kind = KindAuthentication
	case status == 429:
		kind = KindRateLimit
	case status == 400:
		kind = KindValidation
	default:
		kind = KindAPI
	}
	return &Error{
		Kind:   kind,
		Status: status,
		Msg:    fmt.Sprintf("provider returned status %d: %s", status, body),
	}
}
