package deliver

import (
	"math/rand/v2"
	"time"
)

// backoff computes the wait before retry number attempt (0-based): base
// doubled per attempt, capped at max, with a random jitter fraction added so
// restarts do not retry in lockstep.
type backoff struct {
	base   time.Duration
	max    time.Duration
	jitter float64
}

func (b backoff) wait(attempt int) time.Duration {
	d := b.base
	for i := 0; i < attempt && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	if b.jitter > 0 {
		d += time.Duration(rand.Float64() * b.jitter * float64(d))
	}
	return d
}
