package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/model"
)

// Policy bounds the retry loop of a single Execute call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // ± fraction of each delay
	CallTimeout time.Duration
}

// DefaultPolicy returns 5 attempts with delays of 1s, 2s, 4s, 8s (capped at
// 32s), ±20% jitter and a 30s per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    32 * time.Second,
		Jitter:      0.2,
		CallTimeout: 30 * time.Second,
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats are cumulative executor counters.
type Stats struct {
	Calls      int64                 `json:"calls"`
	Attempts   int64                 `json:"attempts"`
	Retries    int64                 `json:"retries"`
	Failures   int64                 `json:"failures"`
	Rejections int64                 `json:"rejections"`
	Breaker    model.BreakerSnapshot `json:"breaker"`
}

// Executor runs upstream calls under a retry policy and a shared breaker.
// It is safe for concurrent use.
type Executor struct {
	policy  Policy
	breaker *CircuitBreaker
	logger  *zap.Logger
	sleep   Sleeper

	mu    sync.Mutex
	stats Stats
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		e.sleep = s
	}
}

// NewExecutor creates an Executor. A nil breaker gets the default threshold
// and cool-down.
func NewExecutor(policy Policy, breaker *CircuitBreaker, logger *zap.Logger, opts ...Option) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultFailureThreshold, DefaultCooldown, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		policy:  policy,
		breaker: breaker,
		logger:  logger,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breaker returns the breaker shared by all calls of this executor.
func (e *Executor) Breaker() *CircuitBreaker {
	return e.breaker
}

func (e *Executor) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.policy.BaseDelay,
		RandomizationFactor: e.policy.Jitter,
		Multiplier:          2,
		MaxInterval:         e.policy.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Execute runs call until it succeeds, fails permanently, exhausts the
// attempt budget, is rejected by the breaker, or ctx is done.
//
// Returned errors:
//   - *apperrors.NonRetryableUpstreamError for permanent failures (first occurrence)
//   - *apperrors.RetryableUpstreamError once MaxAttempts transient failures happened
//   - *apperrors.CircuitOpenError when the breaker rejects an attempt
//   - ctx.Err() when the caller cancels
func (e *Executor) Execute(ctx context.Context, op string, call func(ctx context.Context) error) error {
	e.count(func(s *Stats) { s.Calls++ })
	bo := e.newBackOff()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		retryAfter, ok := e.breaker.Allow()
		if !ok {
			e.count(func(s *Stats) { s.Rejections++ })
			e.logger.Warn("upstream call rejected by open circuit",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("retry_after", retryAfter))
			return &apperrors.CircuitOpenError{Op: op, RetryAfter: retryAfter}
		}

		attempts = attempt
		e.count(func(s *Stats) { s.Attempts++ })
		err := e.runAttempt(ctx, call)
		if err == nil {
			e.breaker.RecordSuccess()
			e.logger.Debug("upstream call succeeded", zap.String("op", op), zap.Int("attempt", attempt))
			return nil
		}

		if ctx.Err() != nil {
			e.breaker.Release()
			return ctx.Err()
		}

		if !apperrors.IsRetryable(err) {
			// The provider answered; a rejected request says nothing about its health.
			e.breaker.RecordSuccess()
			e.logger.Warn("upstream call failed permanently",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return &apperrors.NonRetryableUpstreamError{Op: op, Err: err}
		}

		e.breaker.RecordFailure()
		e.count(func(s *Stats) { s.Failures++ })
		lastErr = err

		if attempt == e.policy.MaxAttempts {
			e.logger.Warn("upstream attempt failed",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", 0),
				zap.Error(err))
			break
		}

		delay := bo.NextBackOff()
		e.logger.Warn("upstream attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		e.count(func(s *Stats) { s.Retries++ })
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &apperrors.RetryableUpstreamError{Op: op, Attempts: attempts, Err: lastErr}
}

func (e *Executor) runAttempt(ctx context.Context, call func(ctx context.Context) error) error {
	if e.policy.CallTimeout <= 0 {
		return call(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.policy.CallTimeout)
	defer cancel()
	return call(attemptCtx)
}

func (e *Executor) count(fn func(s *Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// Stats returns a copy of the executor counters and the breaker state.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	s := e.stats
	e.mu.Unlock()
	s.Breaker = e.breaker.Snapshot()
	return s
}

// Do is Execute for calls that produce a value.
func Do[T any](ctx context.Context, e *Executor, op string, call func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, op, func(ctx context.Context) error {
		v, err := call(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
