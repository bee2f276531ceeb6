package policies

import (
	"context"
	"log/slog"
	"time"
)

// FailureReport carries the structured tags attached to a terminal-failure
// report: retry exhaustion or a breaker opening. Intermediate retry attempts
// are logged but never individually reported.
type FailureReport struct {
	// Policy names the retry executor or breaker that produced the report.
	Policy string

	// Attempts is the number of attempts made, including the initial one.
	// Zero for reports produced by a breaker transition.
	Attempts int

	// TotalDuration is the wall-clock time of the whole execution.
	TotalDuration time.Duration

	// RetryDelays lists the backoff delays actually used, in order.
	RetryDelays []time.Duration

	// Metrics is the breaker metrics snapshot, when a breaker was involved.
	Metrics *CircuitBreakerMetrics
}

// ErrorReporter is the external error-tracking collaborator. Implementations
// forward terminal failures to systems like Sentry or an incident pipeline.
// Report is invoked synchronously; implementations that do slow work should
// hand off internally.
type ErrorReporter interface {
	Report(ctx context.Context, err error, report FailureReport)
}

// NopReporter is an ErrorReporter that discards reports. It is the default.
type NopReporter struct{}

func (NopReporter) Report(context.Context, error, FailureReport) {}

// LogReporter is an ErrorReporter that writes reports to a slog.Logger,
// useful as a stand-in when no tracking backend is wired up.
type LogReporter struct {
	Logger *slog.Logger
}

// NewLogReporter creates a LogReporter. A nil logger uses slog.Default().
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogReporter{Logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, err error, report FailureReport) {
	attrs := []any{
		"policy", report.Policy,
		"error", err,
		"attempts", report.Attempts,
		"total_duration", report.TotalDuration,
		"retry_delays", report.RetryDelays,
	}
	if report.Metrics != nil {
		attrs = append(attrs,
			"breaker_state", report.Metrics.State.String(),
			"error_rate", report.Metrics.ErrorRate)
	}

	r.Logger.ErrorContext(ctx, "terminal failure reported", attrs...)
}
