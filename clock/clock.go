// Package clock provides time sources for deadline bookkeeping.
// Components that check absolute deadlines lazily take a Clock so tests can
// advance time without sleeping.
package clock

import "time"

// Clock provides the current time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Real implements Clock using actual time.
type Real struct{}

// NewReal creates a Clock backed by the system clock.
func NewReal() Real { return Real{} }

// Now returns the system time.
func (Real) Now() time.Time { return time.Now() }
