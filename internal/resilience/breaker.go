// Package resilience runs upstream calls with bounded retries behind a
// process-local circuit breaker.
package resilience

import (
	"sync"
	"time"

	"github.com/ndewijer/market-data-cache/internal/model"
)

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 60 * time.Second
)

// CircuitBreaker tracks consecutive upstream failures across calls.
//
//	CLOSED    --threshold failures-->  OPEN
//	OPEN      --cool-down elapsed-->   HALF_OPEN (one probe admitted)
//	HALF_OPEN --probe succeeds-->      CLOSED
//	HALF_OPEN --probe fails-->         OPEN (cool-down restarts)
type CircuitBreaker struct {
	mu            sync.Mutex
	threshold     int
	cooldown      time.Duration
	now           func() time.Time
	state         model.BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
	trips         int64
}

// NewCircuitBreaker creates a closed breaker. A nil now uses time.Now.
func NewCircuitBreaker(threshold int, cooldown time.Duration, now func() time.Time) *CircuitBreaker {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       now,
		state:     model.BreakerClosed,
	}
}

// Allow decides whether a call may reach the upstream. When it may not, the
// returned duration is the remaining cool-down.
func (b *CircuitBreaker) Allow() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case model.BreakerOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cooldown {
			return b.cooldown - elapsed, false
		}
		b.state = model.BreakerHalfOpen
		b.probeInFlight = true
		return 0, true
	case model.BreakerHalfOpen:
		if b.probeInFlight {
			return 0, false
		}
		b.probeInFlight = true
		return 0, true
	default:
		return 0, true
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = model.BreakerClosed
	b.failures = 0
	b.probeInFlight = false
	b.openedAt = time.Time{}
}

// RecordFailure counts a retryable failure and opens the breaker when the
// threshold is reached or a half-open probe fails.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case model.BreakerHalfOpen:
		b.trip()
	case model.BreakerClosed:
		if b.failures >= b.threshold {
			b.trip()
		}
	}
}

// Release gives back a half-open probe slot without recording an outcome,
// used when the caller abandoned the probe.
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

func (b *CircuitBreaker) trip() {
	b.state = model.BreakerOpen
	b.openedAt = b.now()
	b.probeInFlight = false
	b.trips++
}

// State returns the current position, promoting OPEN to HALF_OPEN for
// reporting once the cool-down has elapsed.
func (b *CircuitBreaker) State() model.BreakerState {
	return b.Snapshot().State
}

// Snapshot returns a copy of the breaker state.
func (b *CircuitBreaker) Snapshot() model.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := model.BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		Trips:               b.trips,
	}
	if b.state == model.BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		snap.State = model.BreakerHalfOpen
	}
	if !b.openedAt.IsZero() {
		opened := b.openedAt
		snap.OpenedAt = &opened
	}
	return snap
}
