package policies

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffCalculator produces the delay before each retry attempt. The delay
// grows multiplicatively with the attempt number and is capped at MaxDelay.
// With jitter enabled the computed delay is multiplied by an independent
// uniform value in [0,1) ("full jitter"), which spreads out retry storms
// from many callers failing at once.
type BackoffCalculator struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	factor    float64
	jitter    bool
	randFloat func() float64
}

// NewBackoffCalculator creates a calculator. A non-positive factor falls back
// to 2.0 (doubling) and a non-positive maxDelay falls back to 30s.
func NewBackoffCalculator(baseDelay, maxDelay time.Duration, factor float64, jitter bool) *BackoffCalculator {
	if factor <= 0 {
		factor = 2.0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	return &BackoffCalculator{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		factor:    factor,
		jitter:    jitter,
		randFloat: rand.Float64,
	}
}

// Delay returns the delay before retry attempt n. Attempts are 1-indexed:
// Delay(1) is the wait before the first retry; the initial try incurs no
// delay, and attempt <= 0 returns 0.
//
// Without jitter the result is min(baseDelay * factor^(attempt-1), maxDelay),
// deterministic and non-decreasing until it saturates. With jitter the result
// is uniform in [0, min(baseDelay*factor^(attempt-1), maxDelay)).
func (c *BackoffCalculator) Delay(attempt int) time.Duration {
	if attempt <= 0 || c.baseDelay <= 0 {
		return 0
	}

	raw := float64(c.baseDelay) * math.Pow(c.factor, float64(attempt-1))
	if raw < 0 || math.IsInf(raw, 1) || raw > float64(c.maxDelay) {
		raw = float64(c.maxDelay)
	}

	delay := time.Duration(raw)
	if c.jitter {
		delay = time.Duration(c.randFloat() * float64(delay))
	}

	if delay < 0 {
		delay = 0
	}
	if delay > c.maxDelay {
		delay = c.maxDelay
	}

	return delay
}
