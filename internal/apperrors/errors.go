package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Input errors represent requests that can never succeed as issued.
var (
	// ErrInvalidDateRange indicates that the provided date range is invalid
	// (e.g., from is after to).
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrInvalidInterval indicates an interval outside the supported enum.
	ErrInvalidInterval = errors.New("invalid interval")

	ErrInvalidSymbol   = errors.New("symbol is required")
	ErrInvalidExchange = errors.New("exchange is required")

	// ErrInvalidBatchSize indicates a non-positive backfill batch size.
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrEmptyUniverse indicates that no symbols were supplied to a bulk operation.
	ErrEmptyUniverse = errors.New("symbol list cannot be empty")
)

// Upstream classification errors. Upstream adapters wrap one of these so the
// executor can decide whether a failure is worth retrying.
var (
	// ErrRateLimited indicates the provider throttled the request (HTTP 429 or equivalent).
	ErrRateLimited = errors.New("upstream rate limit exceeded")

	// ErrUpstreamUnavailable indicates a transient provider failure (5xx, timeout, network).
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamAuth indicates rejected credentials. Never retried.
	ErrUpstreamAuth = errors.New("upstream authentication failed")

	// ErrUpstreamNotFound indicates an unknown symbol or resource. Never retried.
	ErrUpstreamNotFound = errors.New("upstream resource not found")

	// ErrBadRequest indicates a malformed upstream request. Never retried.
	ErrBadRequest = errors.New("malformed upstream request")

	// ErrCircuitOpen is matched by every CircuitOpenError.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Data integrity errors represent rows that must not reach the store.
var (
	// ErrInvalidBar indicates a malformed bar (OHLC relationship violated,
	// negative volume, missing key fields).
	ErrInvalidBar = errors.New("invalid bar")

	// ErrDataInconsistency indicates that the data is in an inconsistent state.
	ErrDataInconsistency = errors.New("data inconsistency detected")
)

// Operation errors.
var (
	// ErrMaintenanceInProgress indicates another bulk maintenance job holds the advisory lock.
	ErrMaintenanceInProgress = errors.New("maintenance job already running")

	// ErrCheckpointNotFound indicates no in-progress job exists for the name.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	ErrNoCachedData = errors.New("no cached data available")
)

// RetryableUpstreamError is returned once the retry budget is exhausted for a
// failure that was considered transient.
type RetryableUpstreamError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryableUpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryableUpstreamError) Unwrap() error { return e.Err }

// NonRetryableUpstreamError is returned immediately for permanent failures.
type NonRetryableUpstreamError struct {
	Op  string
	Err error
}

func (e *NonRetryableUpstreamError) Error() string {
	return fmt.Sprintf("%s: permanent upstream failure: %v", e.Op, e.Err)
}

func (e *NonRetryableUpstreamError) Unwrap() error { return e.Err }

// CircuitOpenError is returned without contacting the upstream while the
// breaker is rejecting calls.
type CircuitOpenError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit breaker open, retry after %s", e.Op, e.RetryAfter.Round(time.Millisecond))
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// IsRetryable reports whether err is a transient upstream failure. Unknown
// errors are treated as transient; only the explicit permanent classes and
// caller cancellation are not.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUpstreamAuth),
		errors.Is(err, ErrUpstreamNotFound),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrInvalidBar),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, ErrInvalidInterval),
		errors.Is(err, ErrInvalidDateRange):
		return false
	}
	return true
}

// FromHTTPStatus maps a provider HTTP status code onto the upstream
// classification errors. Returns nil for 2xx.
func FromHTTPStatus(status int, detail string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429:
		return fmt.Errorf("%w: %s", ErrRateLimited, detail)
	case status == 401 || status == 403:
		return fmt.Errorf("%w: %s", ErrUpstreamAuth, detail)
	case status == 404:
		return fmt.Errorf("%w: %s", ErrUpstreamNotFound, detail)
	case status == 408:
		return fmt.Errorf("%w: request timeout: %s", ErrUpstreamUnavailable, detail)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: status %d: %s", ErrBadRequest, status, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, status, detail)
	}
}
