package policies

import (
	"time"
)

// HealthStatus is a strongly-typed health snapshot of a circuit breaker,
// suitable for health-check endpoints.
type HealthStatus struct {
	// Healthy is true for closed and half-open states, false for open.
	Healthy bool `json:"healthy"`

	// Status is a short string description of the state.
	Status string `json:"status"`

	// TotalCalls is the number of calls inside the monitoring window.
	TotalCalls int `json:"total_calls"`

	// SuccessCalls is the number of windowed successes.
	SuccessCalls int `json:"success_calls"`

	// FailureCalls is the number of windowed failures.
	FailureCalls int `json:"failure_calls"`

	// ErrorRate is the windowed failure percentage, 0-100.
	ErrorRate float64 `json:"error_rate"`

	// AverageResponseTime is the mean windowed operation duration.
	AverageResponseTime time.Duration `json:"average_response_time"`

	// StateChangedAt is when the breaker last changed state.
	StateChangedAt time.Time `json:"state_changed_at"`
}

// GetHealth returns the health status of the circuit breaker.
func (cb *CircuitBreaker[T]) GetHealth() HealthStatus {
	return healthFromMetrics(cb.Metrics())
}

func healthFromMetrics(m CircuitBreakerMetrics) HealthStatus {
	return HealthStatus{
		Healthy:             m.State != StateOpen,
		Status:              m.State.String(),
		TotalCalls:          m.TotalCalls,
		SuccessCalls:        m.SuccessCalls,
		FailureCalls:        m.FailureCalls,
		ErrorRate:           m.ErrorRate,
		AverageResponseTime: m.AverageResponseTime,
		StateChangedAt:      m.StateChangedAt,
	}
}
