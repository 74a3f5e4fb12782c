package feed

import "time"

// backoffDelay returns the sleep before restart attempt number 'attempt'
// (1-based). The delay doubles every attempt, starting at base, and is
// clamped to cap. With base=3s and cap=60s the sequence is
// 3, 6, 12, 24, 48, 60, 60, ...
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	// Beyond 62 doublings we'd overflow int64, and we're long past cap anyway
	if attempt > 32 {
		return cap
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > cap || d <= 0 {
		d = cap
	}
	return d
}
