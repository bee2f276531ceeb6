package policies

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
)

// ErrPolicyNotFound is returned by policy execution and introspection when
// the named policy has never been registered (or was unregistered).
var ErrPolicyNotFound = errors.New("policy not found")

// BreakerOpenError is returned when a call is rejected because the circuit
// breaker is open. The operation was never invoked. RemainingCooldown is an
// estimate of how long the breaker will keep rejecting before it admits a
// probe call; an enclosing retry layer may choose to retry after that.
type BreakerOpenError struct {
	// Policy is the name of the breaker that rejected the call.
	Policy string

	// RemainingCooldown estimates the time until the breaker moves to half-open.
	RemainingCooldown time.Duration

	// Metrics is the breaker's metrics snapshot at rejection time.
	Metrics CircuitBreakerMetrics
}

// Error implements the error interface.
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open: retry after %s", e.Policy, e.RemainingCooldown)
}

// HalfOpenLimitError is returned when the half-open probe quota for the
// current cooldown cycle is exhausted. The operation was never invoked.
type HalfOpenLimitError struct {
	// Policy is the name of the breaker that rejected the call.
	Policy string

	// MaxCalls is the configured half-open probe quota.
	MaxCalls int
}

// Error implements the error interface.
func (e *HalfOpenLimitError) Error() string {
	return fmt.Sprintf("circuit breaker %q is half-open: probe quota of %d exhausted", e.Policy, e.MaxCalls)
}

// IsBreakerRejection reports whether err is a fail-fast rejection from the
// breaker itself (open state or half-open quota), as opposed to a failure of
// the guarded operation.
func IsBreakerRejection(err error) bool {
	var open *BreakerOpenError
	var limit *HalfOpenLimitError

	return errors.As(err, &open) || errors.As(err, &limit)
}

// RetryCondition decides whether a failed attempt should be retried.
// attemptIndex is 0-based: 0 is the initial attempt. Returning false stops
// the retry loop immediately without consuming the remaining budget.
type RetryCondition func(err error, attemptIndex int) bool

// defaultConditionMaxAttempts is the internal attempt ceiling of the default
// retry condition. It is deliberately independent of RetryConfig.MaxRetries:
// MaxRetries bounds the executor's loop, while this ceiling bounds how long
// the default condition keeps classifying an error as worth retrying.
// Whichever limit is reached first stops the loop. Custom conditions are not
// subject to it.
const defaultConditionMaxAttempts = 10

// DefaultRetryCondition retries transient errors (see IsTransient) and
// breaker rejections, up to an internal ceiling of 10 attempts that applies
// regardless of the configured MaxRetries. Retrying breaker rejections is
// what lets a policy's retry layer wait out an open breaker: a later attempt
// may find the breaker half-open and be admitted as a probe.
func DefaultRetryCondition() RetryCondition {
	return func(err error, attemptIndex int) bool {
		if attemptIndex >= defaultConditionMaxAttempts-1 {
			return false
		}
		if IsBreakerRejection(err) {
			return true
		}

		return IsTransient(err)
	}
}

// IsTransient reports whether err matches the transient-error allowlist:
// connection resets and refusals, DNS failures, timeouts, rate limiting, and
// 5xx-class status codes. Context cancellation and deadline expiry are never
// transient; retrying with the same context would fail immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check context errors first: context.DeadlineExceeded would otherwise
	// register as a timeout below.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, pkgerrors.ErrRateLimited) {
		return true
	}
	if pkgerrors.IsTimeout(err) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if code := extractStatusCode(err); code != 0 {
		return code == 429 || code >= 500
	}

	return false
}

// HTTPError represents an error with an associated HTTP status code. Many
// HTTP client libraries provide errors that implement this interface.
type HTTPError interface {
	error
	StatusCode() int
}

// StatusCodeError wraps an error with an HTTP status code. Use this when an
// operation's errors do not carry status information of their own.
type StatusCodeError struct {
	Err  error
	Code int
}

// Error implements the error interface.
func (e *StatusCodeError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code. This implements HTTPError.
func (e *StatusCodeError) StatusCode() int {
	return e.Code
}

// NewStatusCodeError creates a new StatusCodeError.
//
// Example:
//
//	if resp.StatusCode >= 500 {
//	    return nil, policies.NewStatusCodeError(resp.StatusCode, errors.New("server error"))
//	}
func NewStatusCodeError(statusCode int, err error) error {
	return &StatusCodeError{
		Code: statusCode,
		Err:  err,
	}
}

// extractStatusCode attempts to extract an HTTP status code from an error.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}

	return 0
}
