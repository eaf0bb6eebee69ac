package job

import "time"

// Clock provides the time source used by the poller. It can be replaced in
// tests to advance time without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock using the system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time { return time.Now() }

// After waits for d to elapse on the system clock.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
