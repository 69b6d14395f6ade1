package backoff

import "time"

const (
	// Standard backoff constants
	DefaultBase = 1 * time.Second
	DefaultMax  = 60 * time.Second
)

// Calculate returns base * 2^retryCount, capped at max.
// A negative retryCount returns base.
func Calculate(retryCount int, base, max time.Duration) time.Duration {
	if retryCount <= 0 {
		return base
	}

	// Checking against max>>retryCount keeps the shift from overflowing.
	if retryCount > 30 || base > max>>uint(retryCount) {
		return max
	}
	return base * time.Duration(1<<retryCount)
}

// Default is Calculate with the standard 1s base and 60s cap.
func Default(retryCount int) time.Duration {
	return Calculate(retryCount, DefaultBase, DefaultMax)
}
