package controller

import "time"

// Clock is the time source of the routines. Tests replace it to run without sleeping.
type Clock interface {
	// Sleep blocks for d. Pulse timing uses it.
	Sleep(d time.Duration)

	// After returns a channel that receives once d has elapsed. Interruptible waits use it.
	After(d time.Duration) <-chan time.Time
}

// RealClock uses the time package. Software sleeps are only approximately accurate; expect
// jitter of tens of microseconds on a loaded Pi.
type RealClock struct{}

var _ Clock = RealClock{}

func (RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
