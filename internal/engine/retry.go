package engine

import "time"

// RetryStrategy determines how long a failed task waits before it is
// requeued for another attempt.
type RetryStrategy interface {
	// NextRetry returns the delay before the given attempt is requeued.
	// Attempts count from 1, the first failure.
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff between attempts
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextRetry calculates the delay using exponential backoff
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= s.Multiplier
	}

	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}
