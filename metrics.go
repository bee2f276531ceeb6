package policies

import (
	"time"
)

// CallRecord is one observation of a guarded call that actually reached the
// operation. Calls rejected while the breaker is open never produce a record.
type CallRecord struct {
	// Timestamp is when the call completed.
	Timestamp time.Time

	// Success reports whether the call returned without error.
	Success bool

	// Duration is how long the operation ran.
	Duration time.Duration

	// Err is the error returned by the operation, if any.
	Err error
}

// CircuitBreakerMetrics is a read-only snapshot derived from the call records
// inside the monitoring window.
type CircuitBreakerMetrics struct {
	// TotalCalls is the number of calls in the window.
	TotalCalls int `json:"total_calls"`

	// SuccessCalls is the number of successful calls in the window.
	SuccessCalls int `json:"success_calls"`

	// FailureCalls is the number of failed calls in the window.
	FailureCalls int `json:"failure_calls"`

	// ErrorRate is the failure percentage over the window, 0-100.
	ErrorRate float64 `json:"error_rate"`

	// AverageResponseTime is the mean operation duration over the window.
	AverageResponseTime time.Duration `json:"average_response_time"`

	// State is the breaker state at snapshot time.
	State State `json:"state"`

	// StateChangedAt is when the breaker last changed state.
	StateChangedAt time.Time `json:"state_changed_at"`
}

// reduceRecords computes the windowed aggregates from a pruned record slice.
func reduceRecords(records []CallRecord) (total, successes, failures int, errorRate float64, avg time.Duration) {
	total = len(records)
	if total == 0 {
		return 0, 0, 0, 0, 0
	}

	var totalDuration time.Duration
	for _, rec := range records {
		if rec.Success {
			successes++
		} else {
			failures++
		}
		totalDuration += rec.Duration
	}

	errorRate = float64(failures) / float64(total) * 100
	avg = totalDuration / time.Duration(total)

	return total, successes, failures, errorRate, avg
}
