package client

import (
	"time"
)

// backoffDelay computes the reconnect delay for the given attempt number
// (1-based). Delays double from the base and are capped at max, so the
// sequence is monotonically non-decreasing.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
