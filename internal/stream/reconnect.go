package stream

import "time"

// Reconnect timing. Delays double from the initial value up to the cap;
// once the failure ceiling is hit the next wait is a long cooldown and
// the cycle starts over.
const (
	DefaultInitialDelay   = 5 * time.Second
	DefaultMaxDelay       = 60 * time.Second
	DefaultFailureCeiling = 10
	DefaultCooldown       = 5 * time.Minute
)

// Backoff tracks consecutive connection failures and yields the wait
// before the next attempt. Not safe for concurrent use; the reconnect
// loop owns it.
type Backoff struct {
	Initial        time.Duration
	Max            time.Duration
	FailureCeiling int
	Cooldown       time.Duration

	failures int
}

// NewBackoff returns a Backoff with the default reconnect timing.
func NewBackoff() *Backoff {
	return &Backoff{
		Initial:        DefaultInitialDelay,
		Max:            DefaultMaxDelay,
		FailureCeiling: DefaultFailureCeiling,
		Cooldown:       DefaultCooldown,
	}
}

// Next records a failure and returns the wait before the next attempt.
// The nth failure waits min(Initial·2^(n-1), Max); hitting the ceiling
// returns Cooldown instead and resets the failure count.
func (b *Backoff) Next() time.Duration {
	b.failures++
	if b.failures >= b.FailureCeiling {
		b.failures = 0
		return b.Cooldown
	}

	delay := b.Initial
	for i := 1; i < b.failures; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	if delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Reset clears the failure count after a successful connection.
func (b *Backoff) Reset() {
	b.failures = 0
}

// Failures returns the current consecutive failure count.
func (b *Backoff) Failures() int {
	return b.failures
}
