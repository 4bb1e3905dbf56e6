package messaging

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	maxBackoffExponent = 10
	maxJitterSeconds   = 15

	legacyBackoffBase = time.Second
	legacyBackoffMax  = time.Hour
)

// Backoff computes retry delays: min(Max, Base*2^min(10, attempt)) plus jitter,
// clamped into [1s, Max].
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter returns the random offset added to each delay. Nil uses DefaultJitter.
	Jitter func() time.Duration
}

// LegacyBackoff returns the policy used by Outbox.Flush (1s base, one hour cap).
func LegacyBackoff() Backoff {
	return Backoff{Base: legacyBackoffBase, Max: legacyBackoffMax}
}

// DefaultJitter returns a whole number of seconds in [0, 15].
func DefaultJitter() time.Duration {
	// #nosec G404 -- jitter does not need a cryptographic source.
	return time.Duration(rand.IntN(maxJitterSeconds+1)) * time.Second
}

// Delay returns the wait before the next attempt. Attempt is the number of attempts made so far.
func (b Backoff) Delay(attempt int) time.Duration {
	base := max(b.Base, time.Second)
	ceiling := max(b.Max, time.Second)
	if attempt < 0 {
		attempt = 0
	}

	exp := min(attempt, maxBackoffExponent)
	delay := ceiling
	if base <= time.Duration(math.MaxInt64>>exp) {
		delay = min(ceiling, base<<exp)
	}

	jitter := DefaultJitter
	if b.Jitter != nil {
		jitter = b.Jitter
	}
	delay += jitter()

	return min(ceiling, max(time.Second, delay))
}
