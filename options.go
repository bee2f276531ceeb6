package policies

import (
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig holds retry executor configuration.
type RetryConfig struct {
	// Name tags log lines and failure reports. Default: "retry".
	Name string

	// MaxRetries is the maximum number of retries after the initial attempt,
	// so the executor makes at most MaxRetries+1 attempts.
	// Default: 3
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay caps every computed delay.
	// Default: 30 seconds
	MaxDelay time.Duration

	// BackoffFactor is the multiplicative growth per retry.
	// Default: 2.0 (doubling)
	BackoffFactor float64

	// Jitter multiplies each delay by an independent uniform [0,1) value.
	// Default: true
	Jitter bool

	// RetryCondition decides whether a failed attempt is retried. The default
	// condition retries transient errors and breaker rejections up to an
	// internal ceiling of 10 attempts, independent of MaxRetries; see
	// DefaultRetryCondition.
	RetryCondition RetryCondition

	// Observer receives retry lifecycle notifications.
	// Default: NopRetryObserver
	Observer RetryObserver

	// Reporter receives terminal-failure reports.
	// Default: NopReporter
	Reporter ErrorReporter

	// Logger for retry operations.
	// Default: slog.Default()
	Logger *slog.Logger
}

// RetryOption is a functional option for configuring retry behavior.
type RetryOption func(*RetryConfig)

// WithRetryName sets the name used in log lines and failure reports.
func WithRetryName(name string) RetryOption {
	return func(c *RetryConfig) {
		c.Name = name
	}
}

// WithMaxRetries sets the retry budget. The total number of attempts is
// retries+1.
//
// Example:
//
//	policies.WithMaxRetries(2) // up to 3 attempts total
func WithMaxRetries(retries int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxRetries = retries
	}
}

// WithBackoff configures the exponential backoff schedule.
//
// Example:
//
//	policies.WithBackoff(100*time.Millisecond, 5*time.Second, 2.0)
//	// ~100ms, ~200ms, ~400ms, ... capped at 5s
func WithBackoff(baseDelay, maxDelay time.Duration, factor float64) RetryOption {
	return func(c *RetryConfig) {
		c.BaseDelay = baseDelay
		c.MaxDelay = maxDelay
		c.BackoffFactor = factor
	}
}

// WithJitter enables or disables full jitter on computed delays.
func WithJitter(jitter bool) RetryOption {
	return func(c *RetryConfig) {
		c.Jitter = jitter
	}
}

// WithRetryCondition sets a custom retry predicate. Custom conditions are not
// subject to the default condition's internal attempt ceiling; the
// attemptIndex argument lets them impose their own.
func WithRetryCondition(condition RetryCondition) RetryOption {
	return func(c *RetryConfig) {
		c.RetryCondition = condition
	}
}

// WithRetryObserver sets the retry lifecycle observer.
func WithRetryObserver(observer RetryObserver) RetryOption {
	return func(c *RetryConfig) {
		c.Observer = observer
	}
}

// WithRetryReporter sets the terminal-failure reporter.
func WithRetryReporter(reporter ErrorReporter) RetryOption {
	return func(c *RetryConfig) {
		c.Reporter = reporter
	}
}

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// DefaultRetryConfig returns retry configuration with sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		Name:          "retry",
		MaxRetries:    3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold opens the breaker after this many consecutive
	// failures while closed.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before admitting
	// probe calls in half-open state.
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// MonitoringPeriod is the rolling window over which call records are
	// kept and thresholds evaluated, and the interval of the maintenance
	// pass.
	// Default: 60 seconds
	MonitoringPeriod time.Duration

	// HalfOpenMaxCalls is the probe quota per half-open cycle; that many
	// consecutive successes close the breaker.
	// Default: 3
	HalfOpenMaxCalls int

	// VolumeThreshold is the minimum number of windowed calls before the
	// error-rate trigger applies.
	// Default: 10
	VolumeThreshold int

	// ErrorThresholdPercentage opens the breaker when the windowed error
	// rate reaches this percentage and VolumeThreshold is met.
	// Default: 50
	ErrorThresholdPercentage float64

	// Observer receives state-change notifications.
	// Default: NopBreakerObserver
	Observer BreakerObserver

	// Reporter receives a report whenever the breaker opens.
	// Default: NopReporter
	Reporter ErrorReporter

	// Logger for breaker operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Clock supplies the current time; overridable for tests.
	// Default: time.Now
	Clock func() time.Time
}

// CircuitBreakerOption is a functional option for configuring breaker behavior.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// WithFailureThreshold sets the consecutive-failure trip threshold.
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.FailureThreshold = threshold
	}
}

// WithRecoveryTimeout sets the open-state cooldown before half-open probing.
func WithRecoveryTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.RecoveryTimeout = timeout
	}
}

// WithMonitoringPeriod sets the rolling window length and maintenance interval.
func WithMonitoringPeriod(period time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.MonitoringPeriod = period
	}
}

// WithHalfOpenMaxCalls sets the half-open probe quota.
func WithHalfOpenMaxCalls(calls int) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.HalfOpenMaxCalls = calls
	}
}

// WithVolumeThreshold sets the minimum windowed call volume for the
// error-rate trigger.
func WithVolumeThreshold(threshold int) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.VolumeThreshold = threshold
	}
}

// WithErrorThresholdPercentage sets the windowed error-rate trip threshold.
//
// Example:
//
//	policies.WithErrorThresholdPercentage(50) // trip at 50% failures
func WithErrorThresholdPercentage(pct float64) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ErrorThresholdPercentage = pct
	}
}

// WithBreakerObserver sets the state-change observer.
func WithBreakerObserver(observer BreakerObserver) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Observer = observer
	}
}

// WithBreakerReporter sets the open-transition reporter.
func WithBreakerReporter(reporter ErrorReporter) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Reporter = reporter
	}
}

// WithBreakerLogger sets a custom logger for breaker operations.
func WithBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Logger = logger
	}
}

// WithClock sets the breaker's time source. Intended for tests that need to
// step through cooldowns deterministically.
func WithClock(clock func() time.Time) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Clock = clock
	}
}

// DefaultCircuitBreakerConfig returns breaker configuration with sensible
// defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold:         5,
		RecoveryTimeout:          30 * time.Second,
		MonitoringPeriod:         60 * time.Second,
		HalfOpenMaxCalls:         3,
		VolumeThreshold:          10,
		ErrorThresholdPercentage: 50,
	}
}

// Preset names a bundled retry and breaker tuning.
type Preset string

const (
	// PresetFast retries quickly with short delays and trips early; suited
	// to latency-sensitive calls with cheap failures.
	PresetFast Preset = "fast"

	// PresetStandard is the default tuning.
	PresetStandard Preset = "standard"

	// PresetConservative retries patiently with long delays and trips late;
	// suited to expensive or rate-limited dependencies.
	PresetConservative Preset = "conservative"

	// PresetAggressive retries hard with fast-growing delays and trips on
	// the first couple of failures.
	PresetAggressive Preset = "aggressive"
)

// PresetRetryConfig returns the retry configuration for a named preset.
// An empty preset resolves to PresetStandard.
func PresetRetryConfig(p Preset) (*RetryConfig, error) {
	cfg := DefaultRetryConfig()

	switch p {
	case PresetFast:
		cfg.MaxRetries = 2
		cfg.BaseDelay = 100 * time.Millisecond
		cfg.MaxDelay = time.Second
	case PresetStandard, "":
	case PresetConservative:
		cfg.MaxRetries = 5
		cfg.BaseDelay = 2 * time.Second
		cfg.MaxDelay = time.Minute
		cfg.BackoffFactor = 1.5
	case PresetAggressive:
		cfg.MaxRetries = 5
		cfg.BaseDelay = 50 * time.Millisecond
		cfg.MaxDelay = 2 * time.Second
		cfg.BackoffFactor = 3.0
	default:
		return nil, fmt.Errorf("unknown retry preset: %q", p)
	}

	return cfg, nil
}

// PresetCircuitBreakerConfig returns the breaker configuration for a named
// preset. An empty preset resolves to PresetStandard.
func PresetCircuitBreakerConfig(p Preset) (*CircuitBreakerConfig, error) {
	cfg := DefaultCircuitBreakerConfig()

	switch p {
	case PresetFast:
		cfg.FailureThreshold = 3
		cfg.RecoveryTimeout = 5 * time.Second
		cfg.MonitoringPeriod = 10 * time.Second
	case PresetStandard, "":
	case PresetConservative:
		cfg.FailureThreshold = 10
		cfg.RecoveryTimeout = time.Minute
		cfg.MonitoringPeriod = 5 * time.Minute
		cfg.ErrorThresholdPercentage = 75
	case PresetAggressive:
		cfg.FailureThreshold = 2
		cfg.RecoveryTimeout = 10 * time.Second
		cfg.MonitoringPeriod = 30 * time.Second
		cfg.VolumeThreshold = 5
		cfg.ErrorThresholdPercentage = 25
	default:
		return nil, fmt.Errorf("unknown circuit breaker preset: %q", p)
	}

	return cfg, nil
}

// PolicyConfig binds a retry configuration and a breaker configuration under
// one policy name. Explicit Retry/Breaker configs take precedence over the
// named presets.
type PolicyConfig struct {
	// RetryEnabled wires a retry executor into the policy.
	RetryEnabled bool

	// RetryPreset names the retry tuning when Retry is nil.
	// Default: PresetStandard
	RetryPreset Preset

	// Retry overrides RetryPreset with an explicit configuration.
	Retry *RetryConfig

	// BreakerEnabled wires a circuit breaker into the policy.
	BreakerEnabled bool

	// BreakerPreset names the breaker tuning when Breaker is nil.
	// Default: PresetStandard
	BreakerPreset Preset

	// Breaker overrides BreakerPreset with an explicit configuration.
	Breaker *CircuitBreakerConfig
}
