// Package resilience classifies provider failures so callers can surface
// quota problems distinctly and tell transient faults from permanent ones.
// It performs no automatic retries: provider calls are retried manually.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry by hand (e.g., 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// QuotaKind distinguishes rate limiting from billing exhaustion.
type QuotaKind string

const (
	QuotaRateLimited     QuotaKind = "quota_exceeded"
	QuotaBillingRequired QuotaKind = "billing_required"
)

// QuotaError marks a provider rejection caused by rate or billing limits
// (HTTP 429 / 402). Persistence treats it like any other provider error.
type QuotaError struct {
	Err        error
	Kind       QuotaKind
	StatusCode int
	Provider   string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *QuotaError) Unwrap() error {
	return e.Err
}

// ClassifyHTTP wraps err according to the HTTP status the provider returned:
// 429 and 402 become *QuotaError, transient statuses become *TransientError,
// anything else is returned unchanged.
func ClassifyHTTP(provider string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	switch statusCode {
	case http.StatusTooManyRequests:
		return &QuotaError{Err: err, Kind: QuotaRateLimited, StatusCode: statusCode, Provider: provider}
	case http.StatusPaymentRequired:
		return &QuotaError{Err: err, Kind: QuotaBillingRequired, StatusCode: statusCode, Provider: provider}
	}
	if IsTransientHTTPStatus(statusCode) {
		return NewTransientError(err, statusCode)
	}
	return err
}

// AsQuota returns the QuotaError in err's chain, if any.
func AsQuota(err error) (*QuotaError, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// IsQuota reports whether err (or any error in its chain) is a QuotaError.
func IsQuota(err error) bool {
	_, ok := AsQuota(err)
	return ok
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
