package sensor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeActuator struct {
	moving  atomic.Bool
	stopped atomic.Int32
}

func (a *fakeActuator) IsMoving() bool { return a.moving.Load() }
func (a *fakeActuator) Stop() {
	a.stopped.Add(1)
	a.moving.Store(false)
}

type pin struct{ v atomic.Bool }

func (p *pin) read() bool { return p.v.Load() }

func TestEndstop_Debounce(t *testing.T) {
	var es, det pin
	act := &fakeActuator{}
	d := NewDebouncer(NewInput(es.read, 3), NewInput(det.read, 1), act)

	es.v.Store(true)
	act.moving.Store(true)
	d.Poll()
	assert.False(t, d.Endstop.Triggered(), "not armed")

	d.Endstop.Arm()
	d.Poll()
	d.Poll()
	assert.False(t, d.Endstop.Triggered())

	// a glitch resets the count
	es.v.Store(false)
	d.Poll()
	es.v.Store(true)
	d.Poll()
	d.Poll()
	assert.False(t, d.Endstop.Triggered())

	d.Poll()
	assert.True(t, d.Endstop.Triggered())
	assert.EqualValues(t, 1, act.stopped.Load())

	// latched, further polls do nothing
	act.moving.Store(true)
	d.Poll()
	assert.EqualValues(t, 1, act.stopped.Load())

	d.Endstop.Disarm()
	assert.True(t, d.Endstop.Triggered(), "latch survives disarm")
	d.Endstop.Arm()
	assert.False(t, d.Endstop.Triggered(), "arm clears the latch")
}

func TestEndstop_IgnoredWhileIdle(t *testing.T) {
	var es, det pin
	act := &fakeActuator{}
	d := NewDebouncer(NewInput(es.read, 1), NewInput(det.read, 1), act)

	es.v.Store(true)
	d.Endstop.Arm()
	for range 5 {
		d.Poll()
	}
	assert.False(t, d.Endstop.Triggered())
	assert.Zero(t, act.stopped.Load())
}

func TestDetector_LatchWithoutStop(t *testing.T) {
	var es, det pin
	act := &fakeActuator{}
	act.moving.Store(true)
	d := NewDebouncer(NewInput(es.read, 1), NewInput(det.read, 2), act)

	d.Detector.Arm()
	det.v.Store(true)
	d.Poll()
	assert.False(t, d.Detector.Triggered())
	d.Poll()
	assert.True(t, d.Detector.Triggered())
	assert.Zero(t, act.stopped.Load())

	det.v.Store(false)
	d.Poll()
	assert.True(t, d.Detector.Triggered(), "latch holds after the pin drops")
}

func TestDebouncer_Run(t *testing.T) {
	var es, det pin
	act := &fakeActuator{}
	d := NewDebouncer(NewInput(es.read, 1), NewInput(det.read, 1), act)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, time.Millisecond)

	d.Detector.Arm()
	det.v.Store(true)
	assert.Eventually(t, d.Detector.Triggered, time.Second, time.Millisecond)
}

func TestThreshold(t *testing.T) {
	assert.Equal(t, 5, Threshold(5*time.Millisecond, time.Millisecond))
	assert.Equal(t, 1, Threshold(0, time.Millisecond))
	assert.Equal(t, 1, Threshold(time.Millisecond, 0))
}

func TestCountdown(t *testing.T) {
	var c Countdown
	_, ok := c.Tick()
	assert.False(t, ok)

	c.Set(2)
	n, ok := c.Tick()
	assert.True(t, ok)
	assert.Equal(t, 2, n)
	n, ok = c.Tick()
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	_, ok = c.Tick()
	assert.False(t, ok)
	assert.Equal(t, 0, c.Remaining())
}
