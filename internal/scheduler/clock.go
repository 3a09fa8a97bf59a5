package scheduler

import "time"

// Clock is the scheduler's time source.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reports wall time in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
