package clock

import "time"

// Clock provides time.Now() access.
type Clock struct{}

// Now returns the current wall-clock time.
func (Clock) Now() time.Time {
	return time.Now()
}

// NowUnix returns current unix seconds.
func (Clock) NowUnix() int64 {
	return time.Now().Unix()
}

// Fixed always reports the same instant.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time {
	return f.At
}
