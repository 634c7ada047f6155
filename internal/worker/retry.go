package worker

import "time"

// RetryPolicy is the sweeper's backoff while the secondary store is down.
// Zero fields fall back to a one-second start and a factor of two.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the wait before attempt (1-based): InitialDelay grown by
// BackoffFactor per earlier attempt, capped at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := r.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(delay) * factor)
		if next <= delay || (r.MaxDelay > 0 && next >= r.MaxDelay) {
			// Stop growing on overflow or once the cap is reached.
			if r.MaxDelay > 0 {
				return r.MaxDelay
			}
			return delay
		}
		delay = next
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}

// Exhausted reports whether attempt is past the retry budget. Zero MaxRetries means unlimited.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return r.MaxRetries > 0 && attempt > r.MaxRetries
}
