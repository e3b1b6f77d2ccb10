package geo

import (
	"fmt"
	"net/http"
)

// Failure reasons carried by LookupError
const (
	ReasonTimeout   = "timeout"
	ReasonTransport = "transport"
	ReasonCanceled  = "canceled"
	ReasonStatus    = "status"
	ReasonPayload   = "payload"
)

// LookupError reports a provider call that did not produce a usable result.
// The caller decides whether to retry; Retryable is a hint.
type LookupError struct {
	IP         string
	StatusCode int    // HTTP status, 0 when no response was received
	Reason     string // one of the Reason* constants
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("geo lookup for %s failed (%s, HTTP %d): %v", e.IP, e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("geo lookup for %s failed (%s): %v", e.IP, e.Reason, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the provider did not answer in time
func (e *LookupError) Timeout() bool {
	return e.Reason == ReasonTimeout
}

// Retryable reports whether the same call may succeed later: timeouts,
// transport failures, throttling and provider-side errors.
func (e *LookupError) Retryable() bool {
	switch e.Reason {
	case ReasonTimeout, ReasonTransport:
		return true
	case ReasonStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}
