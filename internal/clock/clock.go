package clock

import "time"

// Clock abstracts wall-clock time so day/month rollover logic can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns a Clock backed by time.Now in UTC.
func System() Clock {
	return systemClock{}
}

// Fixed is a Clock pinned to a settable instant. Zero value is usable.
type Fixed struct {
	T time.Time
}

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time {
	return f.T
}

// Advance moves the pinned instant forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
