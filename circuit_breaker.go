package policies

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means calls pass through and outcomes update the counters.
	StateClosed State = iota

	// StateHalfOpen means a limited number of probe calls are admitted to
	// test whether the dependency has recovered.
	StateHalfOpen

	// StateOpen means calls are rejected immediately without invoking the
	// operation.
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// maxCallRecords hard-caps the call history regardless of window length.
const maxCallRecords = 1000

// CircuitBreaker guards an operation with a three-state machine driven by a
// rolling window of call outcomes. While closed it opens after
// FailureThreshold consecutive failures, or when the windowed call volume
// reaches VolumeThreshold with an error rate at or above
// ErrorThresholdPercentage. While open it rejects calls with a
// BreakerOpenError until RecoveryTimeout has elapsed since the last failure,
// then admits up to HalfOpenMaxCalls probes; that many consecutive probe
// successes close it again, and any probe failure reopens it.
//
// State is checked, and transitioned if due, before a call is admitted, and
// every counter update is atomic per call, so a breaker is safe for use by
// many concurrent callers. The breaker never cancels an operation it has
// admitted.
type CircuitBreaker[T any] struct {
	name     string
	config   *CircuitBreakerConfig
	logger   *slog.Logger
	observer BreakerObserver
	reporter ErrorReporter
	clock    func() time.Time

	mu              sync.Mutex
	state           State
	generation      uint64 // bumped on every transition; tags admissions
	failureCount    int    // consecutive failures
	successCount    int    // consecutive successes; drives half-open closing
	halfOpenCalls   int    // admissions in the current half-open cycle
	lastFailureTime time.Time
	stateChangedAt  time.Time
	records         []CallRecord
}

// stateChange is a committed transition pending hook delivery.
type stateChange struct {
	from    State
	to      State
	metrics CircuitBreakerMetrics
	cause   error
}

// NewCircuitBreaker creates a breaker from the provided options.
//
// Example:
//
//	breaker := policies.NewCircuitBreaker[*Quote]("pricing",
//	    policies.WithFailureThreshold(3),
//	    policies.WithRecoveryTimeout(10*time.Second),
//	)
func NewCircuitBreaker[T any](name string, opts ...CircuitBreakerOption) *CircuitBreaker[T] {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}

	return newCircuitBreakerFromConfig[T](name, config)
}

func newCircuitBreakerFromConfig[T any](name string, config *CircuitBreakerConfig) *CircuitBreaker[T] {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Observer == nil {
		config.Observer = NopBreakerObserver{}
	}
	if config.Reporter == nil {
		config.Reporter = NopReporter{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.MonitoringPeriod <= 0 {
		config.MonitoringPeriod = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	if config.VolumeThreshold <= 0 {
		config.VolumeThreshold = 10
	}
	if config.ErrorThresholdPercentage <= 0 {
		config.ErrorThresholdPercentage = 50
	}

	cb := &CircuitBreaker[T]{
		name:     name,
		config:   config,
		logger:   config.Logger,
		observer: config.Observer,
		reporter: config.Reporter,
		clock:    config.Clock,
		state:    StateClosed,
	}
	cb.stateChangedAt = cb.clock()

	return cb
}

// Name returns the breaker's name.
func (cb *CircuitBreaker[T]) Name() string {
	return cb.name
}

// Execute runs the operation under the breaker. A rejection while open is
// fail-fast: no delay, and the operation is never invoked. Every call that
// reaches the operation produces a CallRecord.
func (cb *CircuitBreaker[T]) Execute(ctx context.Context, op Operation[T]) (T, error) {
	var zero T

	admittedIn, err := cb.admit()
	if err != nil {
		return zero, err
	}

	start := cb.clock()
	result, err := op(ctx)
	cb.record(start, admittedIn, err)

	if err != nil {
		return zero, err
	}

	return result, nil
}

// admit checks state, performing the lazy open-to-half-open transition if the
// cooldown has elapsed, and either admits the call or returns the rejection
// error. Admission happens before the call so no call executes against an
// already-invalidated state. The returned generation tags the admission;
// record uses it to detect transitions that happened while the call was in
// flight.
func (cb *CircuitBreaker[T]) admit() (uint64, error) {
	cb.mu.Lock()
	now := cb.clock()
	cb.pruneLocked(now)

	var pending []stateChange

	if cb.state == StateOpen {
		elapsed := now.Sub(cb.lastFailureTime)
		if elapsed < cb.config.RecoveryTimeout {
			rejection := &BreakerOpenError{
				Policy:            cb.name,
				RemainingCooldown: cb.config.RecoveryTimeout - elapsed,
				Metrics:           cb.metricsLocked(now),
			}
			cb.mu.Unlock()

			cb.logger.Warn("circuit breaker open, call rejected",
				"name", cb.name,
				"remaining_cooldown", rejection.RemainingCooldown)

			return 0, rejection
		}

		pending = append(pending, cb.transitionLocked(StateHalfOpen, now, nil))
	}

	var rejection error
	if cb.state == StateHalfOpen {
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			rejection = &HalfOpenLimitError{
				Policy:   cb.name,
				MaxCalls: cb.config.HalfOpenMaxCalls,
			}
		} else {
			cb.halfOpenCalls++
		}
	}
	admittedIn := cb.generation
	cb.mu.Unlock()

	cb.fire(pending)

	if rejection != nil {
		cb.logger.Debug("half-open probe quota exhausted, call rejected",
			"name", cb.name,
			"max_calls", cb.config.HalfOpenMaxCalls)
	}

	return admittedIn, rejection
}

// record appends the call outcome and applies the resulting transitions.
// Counters and state are committed before any hook fires. A call whose
// admission generation no longer matches completed across a transition: its
// outcome feeds the window, but only calls admitted under the current state
// drive the counters — a stale half-open success is not a probe result.
func (cb *CircuitBreaker[T]) record(start time.Time, admittedIn uint64, err error) {
	cb.mu.Lock()
	now := cb.clock()

	cb.records = append(cb.records, CallRecord{
		Timestamp: now,
		Success:   err == nil,
		Duration:  now.Sub(start),
		Err:       err,
	})
	cb.pruneLocked(now)

	if admittedIn != cb.generation {
		// A failure landing while open restarts the cooldown clock.
		if err != nil && cb.state == StateOpen {
			cb.lastFailureTime = now
		}
		cb.mu.Unlock()
		return
	}

	var pending []stateChange

	switch cb.state {
	case StateClosed:
		if err == nil {
			cb.failureCount = 0
			cb.successCount++
		} else {
			cb.failureCount++
			cb.successCount = 0
			cb.lastFailureTime = now
			if cb.shouldTripLocked() {
				pending = append(pending, cb.transitionLocked(StateOpen, now, err))
			}
		}
	case StateHalfOpen:
		if err == nil {
			cb.successCount++
			if cb.successCount >= cb.config.HalfOpenMaxCalls {
				pending = append(pending, cb.transitionLocked(StateClosed, now, nil))
			}
		} else {
			cb.failureCount++
			cb.successCount = 0
			pending = append(pending, cb.transitionLocked(StateOpen, now, err))
		}
	}
	cb.mu.Unlock()

	cb.fire(pending)
}

// shouldTripLocked evaluates the closed-state trip triggers against the
// consecutive-failure counter and the pruned window.
func (cb *CircuitBreaker[T]) shouldTripLocked() bool {
	if cb.failureCount >= cb.config.FailureThreshold {
		return true
	}

	total, _, _, errorRate, _ := reduceRecords(cb.records)

	return total >= cb.config.VolumeThreshold && errorRate >= cb.config.ErrorThresholdPercentage
}

// transitionLocked commits a state change and returns the pending
// notification. Entering half-open resets the probe accounting; entering
// closed resets the failure and success counters; entering open restarts the
// cooldown clock.
func (cb *CircuitBreaker[T]) transitionLocked(to State, now time.Time, cause error) stateChange {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.stateChangedAt = now

	switch to {
	case StateHalfOpen:
		cb.halfOpenCalls = 0
		cb.successCount = 0
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
	case StateOpen:
		cb.lastFailureTime = now
	}

	return stateChange{
		from:    from,
		to:      to,
		metrics: cb.metricsLocked(now),
		cause:   cause,
	}
}

// fire delivers pending transition notifications outside the lock: log,
// observer hook, and an error report when the breaker opened.
func (cb *CircuitBreaker[T]) fire(pending []stateChange) {
	for _, change := range pending {
		cb.logger.Warn("circuit breaker state changed",
			"name", cb.name,
			"from", change.from.String(),
			"to", change.to.String(),
			"error_rate", change.metrics.ErrorRate,
			"total_calls", change.metrics.TotalCalls)

		notifySafely(cb.logger, "on_state_change", func() {
			cb.observer.OnStateChange(cb.name, change.from, change.to, change.metrics)
		})

		if change.to == StateOpen {
			err := change.cause
			if err == nil {
				err = fmt.Errorf("circuit breaker %q opened", cb.name)
			} else {
				err = fmt.Errorf("circuit breaker %q opened: %w", cb.name, err)
			}

			metrics := change.metrics
			cb.reporter.Report(context.Background(), err, FailureReport{
				Policy:  cb.name,
				Metrics: &metrics,
			})
		}
	}
}

// pruneLocked drops records older than the monitoring window and enforces
// the hard cap.
func (cb *CircuitBreaker[T]) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.config.MonitoringPeriod)

	// Records are appended in time order; find the first one still inside
	// the window.
	first := 0
	for first < len(cb.records) && cb.records[first].Timestamp.Before(cutoff) {
		first++
	}
	if first > 0 {
		cb.records = append(cb.records[:0], cb.records[first:]...)
	}

	if len(cb.records) > maxCallRecords {
		cb.records = append(cb.records[:0], cb.records[len(cb.records)-maxCallRecords:]...)
	}
}

func (cb *CircuitBreaker[T]) metricsLocked(now time.Time) CircuitBreakerMetrics {
	total, successes, failures, errorRate, avg := reduceRecords(cb.records)

	return CircuitBreakerMetrics{
		TotalCalls:          total,
		SuccessCalls:        successes,
		FailureCalls:        failures,
		ErrorRate:           errorRate,
		AverageResponseTime: avg,
		State:               cb.state,
		StateChangedAt:      cb.stateChangedAt,
	}
}

// Metrics returns a snapshot computed from the records inside the monitoring
// window.
func (cb *CircuitBreaker[T]) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock()
	cb.pruneLocked(now)

	return cb.metricsLocked(now)
}

// State returns the current state without performing the lazy recovery
// transition; an open breaker past its cooldown still reports open until the
// next call admits a probe.
func (cb *CircuitBreaker[T]) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// ForceOpen moves the breaker to open, restarting the cooldown clock.
func (cb *CircuitBreaker[T]) ForceOpen() {
	cb.force(StateOpen)
}

// ForceClose moves the breaker to closed, resetting the failure and success
// counters. Call history is preserved.
func (cb *CircuitBreaker[T]) ForceClose() {
	cb.force(StateClosed)
}

// ForceHalfOpen moves the breaker to half-open with a fresh probe quota.
func (cb *CircuitBreaker[T]) ForceHalfOpen() {
	cb.force(StateHalfOpen)
}

func (cb *CircuitBreaker[T]) force(to State) {
	cb.mu.Lock()
	if cb.state == to {
		cb.mu.Unlock()
		return
	}

	now := cb.clock()
	change := cb.transitionLocked(to, now, nil)
	cb.mu.Unlock()

	cb.logger.Info("circuit breaker forced",
		"name", cb.name,
		"to", to.String())

	cb.fire([]stateChange{change})
}

// Reset returns the breaker to closed with all counters zeroed and the call
// history cleared.
func (cb *CircuitBreaker[T]) Reset() {
	cb.mu.Lock()
	now := cb.clock()
	cb.records = nil
	cb.halfOpenCalls = 0
	cb.failureCount = 0
	cb.successCount = 0

	var pending []stateChange
	if cb.state != StateClosed {
		pending = append(pending, cb.transitionLocked(StateClosed, now, nil))
	}
	cb.mu.Unlock()

	cb.logger.Info("circuit breaker reset", "name", cb.name)

	cb.fire(pending)
}

// Maintain runs the periodic maintenance pass, pruning expired call records
// every MonitoringPeriod until the context is done. Pruning also happens
// lazily on admission and metrics reads, so running Maintain is optional; it
// keeps memory bounded for breakers that go quiet.
func (cb *CircuitBreaker[T]) Maintain(ctx context.Context) {
	ticker := time.NewTicker(cb.config.MonitoringPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cb.mu.Lock()
			cb.pruneLocked(cb.clock())
			cb.mu.Unlock()
		}
	}
}
