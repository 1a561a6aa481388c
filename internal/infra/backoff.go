package infra

import "time"

// CalculateBackoff returns the delay before retry attempt n (1-based),
// doubling from base up to max. Attempt 1 -> base, attempt 2 -> 2*base, etc.
func CalculateBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
