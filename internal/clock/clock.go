// Package clock abstracts time so tick loops and cadence logic can be tested
// against a manually advanced clock instead of wall time.
package clock

import "time"

// Clock is the time source used by hosts and the executor.
// Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current time according to this clock.
	Now() time.Time

	// After returns a channel that receives the current time once duration d
	// has elapsed. The channel receives exactly once.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the system time.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
