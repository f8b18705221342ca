package jobs

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: Base·2^(n-1) for the n-th failed attempt,
// capped at Max. Jitter spreads each delay by up to ±Jitter of its value.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the wait before the attempt after failed attempt n.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.Base
	for i := 1; i < n; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
		if d < 0 {
			d = 0
		}
	}
	return d
}
