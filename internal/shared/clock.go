package shared

import "time"

// Clock supplies the current time so due dates and timestamps are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock returns wall-clock UTC time.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

// Now implements Clock.
func (c FixedClock) Now() time.Time { return c.At }
