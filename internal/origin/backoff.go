package origin

import (
	"math/rand/v2"
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// Backoff returns the wait before retry attempt n (0-based): exponential
// from 1s capped at 30s, with half-window jitter so clustered retries
// spread out.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := backoffBase << uint(attempt)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	half := d / 2
	return half + rand.N(half+1)
}
