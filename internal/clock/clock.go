// Package clock provides the production Clock implementation.
package clock

import "time"

// System reads the wall clock.
type System struct{}

// Now implements outreach.Clock.
func (System) Now() time.Time { return time.Now() }
