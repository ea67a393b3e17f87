package enroll

import "time"

// maxShift keeps 1<<attempt from overflowing a time.Duration.
const maxShift = 30

// backoffDelay returns the restart delay after the attempt-th consecutive
// failure (0-based), capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	max := time.Duration(maxSeconds) * time.Second
	if delay > max {
		return max
	}
	return delay
}
