package controller

import (
	"time"
)

// fakeClock advances virtual time instead of sleeping
type fakeClock struct {
	elapsed time.Duration
	sleeps  int
	waits   int

	// onSleep is called after each Sleep with the number of sleeps so far
	onSleep func(n int)
}

var _ Clock = (*fakeClock)(nil)

func (c *fakeClock) Sleep(d time.Duration) {
	c.elapsed += d
	c.sleeps++
	if c.onSleep != nil {
		c.onSleep(c.sleeps)
	}
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.elapsed += d
	c.waits++
	ch := make(chan time.Time, 1)
	ch <- time.Unix(0, 0).Add(c.elapsed)
	return ch
}
