package scrobble

import "time"

// backoff gates retries after consecutive failures. the delay doubles per
// failure up to max, and a success resets it to zero so the next attempt is
// immediate.
type backoff struct {
	min, max time.Duration

	delay time.Duration
	next  time.Time
}

func newBackoff(min, max time.Duration) backoff {
	return backoff{min: min, max: max}
}

func (b *backoff) Ready(now time.Time) bool {
	return !now.Before(b.next)
}

func (b *backoff) Fail(now time.Time) {
	switch {
	case b.delay == 0:
		b.delay = b.min
	case b.delay < b.max:
		b.delay *= 2
		if b.delay > b.max {
			b.delay = b.max
		}
	}
	b.next = now.Add(b.delay)
}

func (b *backoff) Reset() {
	b.delay = 0
	b.next = time.Time{}
}

// Expedite clears the wait but keeps the accumulated delay, so an operator
// triggered attempt that fails again doesn't restart the ladder.
func (b *backoff) Expedite() {
	b.next = time.Time{}
}

func (b *backoff) Delay() time.Duration {
	return b.delay
}
