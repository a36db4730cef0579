package relay

import (
	"math/rand"
	"time"
)

// backoffDelay returns the wait before attempt n (0-indexed):
// min(base·2ⁿ, cap) plus up to 10% jitter.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	if d > cap {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + jitter
}
