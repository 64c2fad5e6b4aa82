// Package sensor debounces the clamp endstop and tool detector inputs.
//
// Poll runs on a timer goroutine and is the only writer of the debounce
// count and triggered latch while an input is armed. The initiator of an
// operation clears the latch with Arm, which resets state before
// arming, and reads it after Disarm.
package sensor

import (
	"context"
	"sync/atomic"
	"time"
)

// Actuator is the motion that the endstop is allowed to stop.
type Actuator interface {
	IsMoving() bool
	Stop()
}

// Input is one debounced digital input.
type Input struct {
	read func() bool

	threshold atomic.Int32
	armed     atomic.Bool
	count     atomic.Int32
	triggered atomic.Bool
}

// NewInput returns an input that reads its pin with read and latches after
// threshold consecutive asserted polls.
func NewInput(read func() bool, threshold int) *Input {
	in := &Input{read: read}
	in.SetThreshold(threshold)
	return in
}

// SetThreshold changes the debounce threshold. Values below 1 are raised to 1.
func (in *Input) SetThreshold(n int) {
	if n < 1 {
		n = 1
	}
	in.threshold.Store(int32(n))
}

// Arm clears the latch and starts watching the input.
func (in *Input) Arm() {
	in.armed.Store(false)
	in.count.Store(0)
	in.triggered.Store(false)
	in.armed.Store(true)
}

// Disarm stops watching the input. The latch keeps its value.
func (in *Input) Disarm() { in.armed.Store(false) }

// Triggered reports the latch.
func (in *Input) Triggered() bool { return in.triggered.Load() }

// Armed reports whether the input is being watched.
func (in *Input) Armed() bool { return in.armed.Load() }

// Raw reads the pin without debouncing.
func (in *Input) Raw() bool { return in.read() }

// poll advances the debounce state by one period and reports
// whether the latch was set by this call.
func (in *Input) poll() bool {
	if !in.armed.Load() || in.triggered.Load() {
		return false
	}
	if !in.read() {
		in.count.Store(0)
		return false
	}
	if in.count.Add(1) < in.threshold.Load() {
		return false
	}
	in.count.Store(0)
	in.triggered.Store(true)
	return true
}

// Debouncer polls the clamp endstop and tool detector.
type Debouncer struct {
	Endstop  *Input
	Detector *Input

	act Actuator
}

// NewDebouncer returns a Debouncer. The clamp actuator is stopped as soon
// as the endstop latches.
func NewDebouncer(endstop, detector *Input, act Actuator) *Debouncer {
	return &Debouncer{Endstop: endstop, Detector: detector, act: act}
}

// Poll runs one timer period. It never blocks.
func (d *Debouncer) Poll() {
	// the endstop only counts while the clamp is actually moving
	if d.Endstop.armed.Load() && d.act.IsMoving() {
		if d.Endstop.poll() {
			d.act.Stop()
		}
	}
	d.Detector.poll()
}

// Run calls Poll every period until ctx is done.
func (d *Debouncer) Run(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.Poll()
		}
	}
}

// Threshold converts a debounce time to a number of polls.
func Threshold(debounce, period time.Duration) int {
	if period <= 0 {
		return 1
	}
	n := int(debounce / period)
	if n < 1 {
		return 1
	}
	return n
}
