package sensor

import "sync/atomic"

// Countdown is a counter decremented by a timer goroutine and
// restarted by the control loop.
type Countdown struct {
	n atomic.Int32
}

// Set restarts the countdown at n.
func (c *Countdown) Set(n int) { c.n.Store(int32(n)) }

// Remaining returns the current count.
func (c *Countdown) Remaining() int { return int(c.n.Load()) }

// Tick decrements the count. It returns the count before the call and
// false once the countdown has expired.
func (c *Countdown) Tick() (int, bool) {
	for {
		v := c.n.Load()
		if v <= 0 {
			return 0, false
		}
		if c.n.CompareAndSwap(v, v-1) {
			return int(v), true
		}
	}
}
