package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Class says how a failed call should be treated.
type Class int

const (
	// Permanent failures are returned to the caller as-is.
	Permanent Class = iota
	// Transient failures may succeed on a later attempt.
	Transient
	// Cancelled means the caller gave up; never retried.
	Cancelled
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Cancelled:
		return "cancelled"
	default:
		return "permanent"
	}
}

// TransientError marks a downstream failure as retryable, e.g. a 429 from
// the platform's quota layer.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient. statusCode may be zero.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// resetMessages are connection failures that surface without a typed error.
var resetMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"server closed idle connection",
	"tls handshake timeout",
}

// Classify sorts err into a Class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Permanent
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Cancelled
	}

	var te *TransientError
	if errors.As(err, &te) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	for _, m := range resetMessages {
		if strings.Contains(msg, m) {
			return Transient
		}
	}
	return Permanent
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return Classify(err) == Transient
}

// IsCircuitOpen reports whether err came from an open breaker.
func IsCircuitOpen(err error) bool {
	return eris.Is(err, ErrCircuitOpen)
}

// RetryableStatus reports whether a response is worth retrying, by HTTP
// code or by the platform's canonical status name.
func RetryableStatus(code int, status string) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	switch status {
	case "RESOURCE_EXHAUSTED", "UNAVAILABLE", "ABORTED":
		return true
	}
	return false
}
