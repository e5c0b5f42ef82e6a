package engine

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff is the retry schedule: delays are consumed in order and the last
// one repeats until MaxRetries attempts were retried.
type Backoff struct {
	Delays     []time.Duration
	MaxRetries int
}

// DefaultBackoff mirrors the schedule used for precondition and transient failures.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Delays:     []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second},
		MaxRetries: 5,
	}
}

// Delay returns the wait before retry number attempt (zero based).
func (b *Backoff) Delay(attempt int) time.Duration {
	if len(b.Delays) == 0 {
		return 0
	}
	if attempt >= len(b.Delays) {
		return b.Delays[len(b.Delays)-1]
	}
	if attempt < 0 {
		attempt = 0
	}
	return b.Delays[attempt]
}

// policy returns a fresh go-retry schedule. scheduled is called with every
// delay before it elapses.
func (b *Backoff) policy(scheduled func(time.Duration)) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if attempt >= b.MaxRetries {
			return 0, true
		}
		d := b.Delay(attempt)
		attempt++
		if scheduled != nil {
			scheduled(d)
		}
		return d, false
	})
}
