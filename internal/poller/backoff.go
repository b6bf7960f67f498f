package poller

import (
	"math"
	"time"
)

// DefaultBaseWait is the wait between cycles after a successful fetch.
const DefaultBaseWait = 120 * time.Second

// Backoff tracks the wait before the next poll cycle. Every failed fetch
// doubles it and every successful fetch resets it to Base. A zero Max leaves
// the doubling unbounded.
//
// Backoff is owned by the poll loop and is not safe for concurrent use.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	wait time.Duration
}

// NewBackoff returns a Backoff starting at base. A non-positive base falls
// back to DefaultBaseWait.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBaseWait
	}
	return &Backoff{Base: base, Max: max, wait: base}
}

// Failure doubles the wait, saturating at the largest Duration.
func (b *Backoff) Failure() {
	if b.wait > math.MaxInt64/2 {
		b.wait = math.MaxInt64
	} else {
		b.wait *= 2
	}
	if b.Max > 0 && b.wait > b.Max {
		b.wait = b.Max
	}
}

// Success resets the wait to Base.
func (b *Backoff) Success() {
	b.wait = b.Base
}

// Wait returns the current wait.
func (b *Backoff) Wait() time.Duration {
	return b.wait
}
