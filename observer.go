package policies

import (
	"log/slog"
	"time"
)

// RetryObserver receives lifecycle notifications from a RetryExecutor.
// Callbacks are invoked synchronously after internal bookkeeping has been
// updated; a panicking observer is isolated and never corrupts executor
// state or aborts the retry loop.
type RetryObserver interface {
	// OnRetry is invoked before each retry attempt, after the delay has been
	// computed but before the executor sleeps. attempt is 1-indexed over
	// retries: 1 means the first retry.
	OnRetry(attempt int, delay time.Duration, err error)

	// OnSuccess is invoked when an execution succeeds, with the total number
	// of attempts made.
	OnSuccess(attempts int)

	// OnFailure is invoked when the retry budget is exhausted.
	OnFailure(attempts int, err error)
}

// NopRetryObserver is a RetryObserver that does nothing. It is the default.
type NopRetryObserver struct{}

func (NopRetryObserver) OnRetry(int, time.Duration, error) {}
func (NopRetryObserver) OnSuccess(int)                     {}
func (NopRetryObserver) OnFailure(int, error)              {}

// RetryObserverFuncs adapts plain functions to the RetryObserver interface.
// Nil fields are skipped.
type RetryObserverFuncs struct {
	Retry   func(attempt int, delay time.Duration, err error)
	Success func(attempts int)
	Failure func(attempts int, err error)
}

func (o RetryObserverFuncs) OnRetry(attempt int, delay time.Duration, err error) {
	if o.Retry != nil {
		o.Retry(attempt, delay, err)
	}
}

func (o RetryObserverFuncs) OnSuccess(attempts int) {
	if o.Success != nil {
		o.Success(attempts)
	}
}

func (o RetryObserverFuncs) OnFailure(attempts int, err error) {
	if o.Failure != nil {
		o.Failure(attempts, err)
	}
}

// BreakerObserver receives state-change notifications from a CircuitBreaker.
// OnStateChange fires synchronously on every transition, after the new state
// and counters have been committed, and receives the metrics snapshot taken
// at transition time. A panicking observer is isolated.
type BreakerObserver interface {
	OnStateChange(policy string, from, to State, metrics CircuitBreakerMetrics)
}

// NopBreakerObserver is a BreakerObserver that does nothing. It is the default.
type NopBreakerObserver struct{}

func (NopBreakerObserver) OnStateChange(string, State, State, CircuitBreakerMetrics) {}

// BreakerObserverFunc adapts a plain function to the BreakerObserver interface.
type BreakerObserverFunc func(policy string, from, to State, metrics CircuitBreakerMetrics)

func (f BreakerObserverFunc) OnStateChange(policy string, from, to State, metrics CircuitBreakerMetrics) {
	f(policy, from, to, metrics)
}

// notifySafely runs a lifecycle hook, recovering and logging any panic so
// hook failures cannot corrupt the caller's state machine.
func notifySafely(logger *slog.Logger, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("lifecycle hook panicked",
				"hook", hook,
				"panic", r)
		}
	}()

	fn()
}
