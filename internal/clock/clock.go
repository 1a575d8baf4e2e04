// Package clock abstracts "now" so windows and timestamps are testable.
package clock

import "time"

// Precision is the resolution every store keeps for timestamps. Times handed
// out by System are truncated to it so a stored value compares equal to the
// one the run computed.
const Precision = time.Millisecond

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now returns the current time in UTC at store precision.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}

// Fixed always returns the same instant.
type Fixed time.Time

// Now returns the fixed instant in UTC.
func (f Fixed) Now() time.Time {
	return time.Time(f).UTC()
}
