// Package system provides the wall-clock implementation of check.Clock.
package system

import "time"

// Clock reads the wall clock.
type Clock struct{}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now()
}
