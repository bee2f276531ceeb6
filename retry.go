package policies

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryResult is the outcome of one RetryExecutor.Execute call.
type RetryResult[T any] struct {
	// Success reports whether the operation eventually succeeded.
	Success bool

	// Data is the operation's result when Success is true.
	Data T

	// Err is the surfaced error when Success is false.
	Err error

	// Attempts is the number of attempts made, including the initial one.
	Attempts int

	// TotalDuration is the wall-clock time of the whole execution, delays
	// included.
	TotalDuration time.Duration

	// RetryDelays lists the backoff delays actually used, in order.
	RetryDelays []time.Duration
}

// RetryExecutor runs operations with bounded retry attempts and exponential
// backoff. It makes at most MaxRetries+1 attempts; the retry condition can
// stop the loop earlier without consuming the remaining budget. The only
// suspension points are the inter-attempt delays and the operation itself,
// and an executor is safe for concurrent use by multiple callers.
type RetryExecutor[T any] struct {
	config    *RetryConfig
	calc      *BackoffCalculator
	logger    *slog.Logger
	observer  RetryObserver
	condition RetryCondition
	reporter  ErrorReporter
	stats     *retryStats
}

// retryStats tracks cumulative retry statistics across executions.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// NewRetryExecutor creates a retry executor from the provided options.
//
// Example:
//
//	executor := policies.NewRetryExecutor[*Order](
//	    policies.WithMaxRetries(4),
//	    policies.WithBackoff(100*time.Millisecond, 5*time.Second, 2.0),
//	)
func NewRetryExecutor[T any](opts ...RetryOption) *RetryExecutor[T] {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}

	return newRetryExecutorFromConfig[T](config)
}

// newRetryExecutorFromConfig normalizes a fully built config. The manager
// uses this path so policy configs and option-built configs behave the same.
func newRetryExecutorFromConfig[T any](config *RetryConfig) *RetryExecutor[T] {
	if config.Name == "" {
		config.Name = "retry"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Observer == nil {
		config.Observer = NopRetryObserver{}
	}
	if config.RetryCondition == nil {
		config.RetryCondition = DefaultRetryCondition()
	}
	if config.Reporter == nil {
		config.Reporter = NopReporter{}
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	return &RetryExecutor[T]{
		config:    config,
		calc:      NewBackoffCalculator(config.BaseDelay, config.MaxDelay, config.BackoffFactor, config.Jitter),
		logger:    config.Logger,
		observer:  config.Observer,
		condition: config.RetryCondition,
		reporter:  config.Reporter,
		stats:     &retryStats{},
	}
}

// Execute runs the operation with retry. Per attempt after the first: the
// delay is computed, the OnRetry hook fires, the executor sleeps, then the
// operation is invoked. A failed attempt is retried only while the retry
// condition allows it and budget remains; a condition veto surfaces the
// error immediately. Exhausting the budget reports the failure to the
// configured ErrorReporter with the attempt count, duration, and delay
// sequence; vetoed and cancelled executions surface their error without a
// report.
func (e *RetryExecutor[T]) Execute(ctx context.Context, op Operation[T]) RetryResult[T] {
	start := time.Now()

	// A context that is already done makes no attempts at all.
	select {
	case <-ctx.Done():
		e.logger.Warn("context done before first attempt",
			"name", e.config.Name,
			"error", ctx.Err())
		return RetryResult[T]{Err: ctx.Err(), TotalDuration: time.Since(start)}
	default:
	}

	var (
		result       T
		attempts     int
		delays       []time.Duration
		lastErr      error
		stoppedEarly bool
	)

	// The backoff func runs between a failed attempt and the sleep, which is
	// exactly where the delay is recorded and the OnRetry hook belongs.
	backoff := retry.WithMaxRetries(
		uint64(e.config.MaxRetries), // #nosec G115 - normalized non-negative above
		retry.BackoffFunc(func() (time.Duration, bool) {
			delay := e.calc.Delay(len(delays) + 1)
			delays = append(delays, delay)
			e.notifyRetry(len(delays), delay, lastErr)
			return delay, false
		}),
	)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		e.stats.mu.Lock()
		e.stats.totalAttempts++
		if attempts > 1 {
			e.stats.totalRetries++
		}
		e.stats.lastAttemptTime = time.Now()
		e.stats.mu.Unlock()

		resp, err := op(ctx)
		if err == nil {
			if attempts > 1 {
				e.logger.Info("operation succeeded after retry",
					"name", e.config.Name,
					"attempts", attempts)
			}
			result = resp
			return nil
		}

		lastErr = err

		if !e.condition(err, attempts-1) {
			e.logger.Debug("retry condition vetoed, giving up",
				"name", e.config.Name,
				"attempt", attempts,
				"error", err)
			stoppedEarly = true
			return err
		}

		e.logger.Debug("attempt failed, retrying",
			"name", e.config.Name,
			"attempt", attempts,
			"error", err)

		return retry.RetryableError(err)
	})

	total := time.Since(start)

	if err == nil {
		e.stats.mu.Lock()
		e.stats.totalSuccesses++
		e.stats.mu.Unlock()

		notifySafely(e.logger, "on_success", func() { e.observer.OnSuccess(attempts) })

		return RetryResult[T]{
			Success:       true,
			Data:          result,
			Attempts:      attempts,
			TotalDuration: total,
			RetryDelays:   delays,
		}
	}

	e.stats.mu.Lock()
	e.stats.totalFailures++
	e.stats.lastError = err
	e.stats.mu.Unlock()

	// Exhaustion surfaces the last operation error; cancellation during a
	// backoff sleep surfaces the context error instead.
	exhausted := !stoppedEarly && lastErr != nil && errors.Is(err, lastErr)
	if exhausted {
		notifySafely(e.logger, "on_failure", func() { e.observer.OnFailure(attempts, err) })
	}

	e.logger.Warn("operation failed",
		"name", e.config.Name,
		"attempts", attempts,
		"exhausted", exhausted,
		"total_duration", total,
		"error", err)

	if exhausted {
		e.reporter.Report(ctx, err, FailureReport{
			Policy:        e.config.Name,
			Attempts:      attempts,
			TotalDuration: total,
			RetryDelays:   delays,
		})
	}

	return RetryResult[T]{
		Err:           err,
		Attempts:      attempts,
		TotalDuration: total,
		RetryDelays:   delays,
	}
}

func (e *RetryExecutor[T]) notifyRetry(attempt int, delay time.Duration, err error) {
	e.logger.Debug("backing off before retry",
		"name", e.config.Name,
		"retry", attempt,
		"delay", delay,
		"error", err)

	notifySafely(e.logger, "on_retry", func() { e.observer.OnRetry(attempt, delay, err) })
}

// RetryStats holds cumulative statistics about retry operations.
type RetryStats struct {
	// TotalAttempts is the total number of attempts made (initial and retries).
	TotalAttempts int64

	// TotalRetries is the number of retry attempts only.
	TotalRetries int64

	// TotalSuccesses is the number of successful executions.
	TotalSuccesses int64

	// TotalFailures is the number of failed executions (budget exhausted or
	// stopped by the retry condition).
	TotalFailures int64

	// LastAttemptTime is the time of the most recent attempt.
	LastAttemptTime time.Time

	// LastError is the most recent terminal error, if any.
	LastError error
}

// Stats returns a snapshot of the cumulative retry statistics. It is safe to
// call concurrently with Execute.
func (e *RetryExecutor[T]) Stats() RetryStats {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   e.stats.totalAttempts,
		TotalRetries:    e.stats.totalRetries,
		TotalSuccesses:  e.stats.totalSuccesses,
		TotalFailures:   e.stats.totalFailures,
		LastAttemptTime: e.stats.lastAttemptTime,
		LastError:       e.stats.lastError,
	}
}
