package outbox

import (
	"math"
	"time"
)

// RetryDelay returns how long a message waits before its next delivery
// attempt: base^attempts seconds, capped at max. attempts is the
// post-increment attempt count, so for base 2 the sequence is
// 2s, 4s, 8s, 16s, 32s.
func RetryDelay(base, attempts int, max time.Duration) time.Duration {
	if base <= 0 || attempts <= 0 {
		return 0
	}

	secs := math.Pow(float64(base), float64(attempts))
	if secs > math.MaxInt64/float64(time.Second) {
		return max
	}

	delay := time.Duration(secs * float64(time.Second))
	if max > 0 && delay > max {
		return max
	}
	return delay
}
