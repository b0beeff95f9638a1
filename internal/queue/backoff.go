package queue

import (
	"math"
	"time"
)

const (
	// DefaultBackoffBase is the base delay for the first retry
	DefaultBackoffBase = 5 * time.Second
	// DefaultBackoffCap bounds the delay regardless of retry count
	DefaultBackoffCap = 10 * time.Minute
)

// Backoff computes capped exponential retry delays.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// NewBackoff returns a Backoff, substituting defaults for non-positive values.
func NewBackoff(base, cap time.Duration) Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if cap <= 0 {
		cap = DefaultBackoffCap
	}
	return Backoff{Base: base, Cap: cap}
}

// Delay returns the delay before retry attempt n (1 for the first retry):
// min(cap, base^n) with base measured in seconds. The result is monotonically
// non-decreasing in n and never exceeds Cap.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	seconds := math.Pow(b.Base.Seconds(), float64(attempt))

	capSeconds := b.Cap.Seconds()
	if seconds > capSeconds || math.IsInf(seconds, 1) {
		return b.Cap
	}

	return time.Duration(seconds * float64(time.Second))
}
