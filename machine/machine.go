// Package machine drives a motion controller through an Adapter: an
// ordered command pipeline, modal state tracking, jog moves and pin
// reads for the tool changer.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/gatc/config"
	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/halt"
)

var (
	ErrNotIdle       = errors.New("machine not idle")
	ErrHalted        = errors.New("machine halted")
	ErrNoState       = errors.New("no modal state saved")
	ErrUnknownSwitch = errors.New("unknown switch")
)

// Options configure a Machine.
type Options struct {
	Log  *slog.Logger
	Halt *halt.Signal

	// QueueSize is the number of blocks Submit accepts before blocking.
	QueueSize int

	ProbePin  byte
	LaserMode bool
	Switches  map[string]config.Switch
}

type Machine struct {
	a    Adapter
	log  *slog.Logger
	halt *halt.Signal

	blocks  chan gcode.Block
	pending atomic.Int64
	drained broadcast
	reports broadcast

	jogging   atomic.Bool
	laserMode atomic.Bool
	probePin  byte
	switches  map[string]config.Switch

	mx       sync.Mutex
	vm       *gcode.VM
	stack    []gcode.Block
	last     State
	probeAt  time.Time
	switchOn map[string]bool
	subs     []func(State)
}

func NewMachine(a Adapter, opts Options) *Machine {
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	if opts.Halt == nil {
		opts.Halt = &halt.Signal{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.ProbePin == 0 {
		opts.ProbePin = 'P'
	}
	m := &Machine{
		a:        a,
		log:      opts.Log,
		halt:     opts.Halt,
		blocks:   make(chan gcode.Block, opts.QueueSize),
		probePin: opts.ProbePin,
		switches: opts.Switches,
		vm:       gcode.NewVM(),
		switchOn: make(map[string]bool),
		last:     a.CurrentState(),
	}
	m.laserMode.Store(opts.LaserMode)

	m.halt.Subscribe(func(ev halt.Event) {
		// feed hold, then cancel any jog
		if err := m.a.WriteByte('!'); err != nil {
			m.log.Error("feed hold", "err", err)
		}
		if err := m.a.WriteByte(0x85); err != nil {
			m.log.Error("jog cancel", "err", err)
		}
	})
	m.halt.OnClear(func() {
		// soft reset flushes the held motion
		if err := m.a.WriteByte(0x18); err != nil {
			m.log.Error("reset", "err", err)
		}
	})

	return m
}

// Run processes the pipeline and status reports until ctx is done.
func (m *Machine) Run(ctx context.Context) {
	go m.watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-m.blocks:
			if !m.halt.Halted() {
				if err := m.write(b); err != nil {
					m.halt.Raise(halt.ControllerError, fmt.Sprintf("%s: %v", b, err))
				}
			}
			m.pending.Add(-1)
			m.drained.Notify()
		}
	}
}

func (m *Machine) write(b gcode.Block) error {
	line := b.String()
	m.log.Debug("send", "line", line)
	if _, err := m.a.Write([]byte(line + "\n")); err != nil {
		m.log.Error("write", "line", line, "err", err)
		return err
	}
	m.mx.Lock()
	m.vm.Track(b)
	m.mx.Unlock()
	return nil
}

func (m *Machine) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-m.a.State():
			m.mx.Lock()
			m.last = st
			if st.Pin(m.probePin) {
				m.probeAt = time.Now()
			}
			subs := m.subs
			m.mx.Unlock()

			m.reports.Notify()
			for _, fn := range subs {
				fn(st)
			}
		}
	}
}

// OnState registers fn to be called with every status report.
func (m *Machine) OnState(fn func(State)) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.subs = append(m.subs[:len(m.subs):len(m.subs)], fn)
}

// State returns the last status report.
func (m *Machine) State() State {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.last
}

// nextReport waits for a status report newer than the call.
func (m *Machine) nextReport(ctx context.Context) (State, error) {
	select {
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-m.reports.Wait():
	}
	return m.State(), nil
}

// Submit queues b for the controller. It blocks while the queue is full.
func (m *Machine) Submit(ctx context.Context, b gcode.Block) error {
	if m.halt.Halted() {
		return ErrHalted
	}
	m.pending.Add(1)
	select {
	case m.blocks <- b:
		return nil
	case <-ctx.Done():
		m.pending.Add(-1)
		m.drained.Notify()
		return ctx.Err()
	}
}

// Pending returns the number of submitted blocks not yet sent.
func (m *Machine) Pending() int { return int(m.pending.Load()) }

// WaitForIdle returns once every submitted block was sent and the
// controller finished executing it.
func (m *Machine) WaitForIdle(ctx context.Context) error {
	for {
		ch := m.drained.Wait()
		if m.pending.Load() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
	if m.halt.Halted() {
		return ErrHalted
	}

	// a dwell is acknowledged only after the planner is empty
	_, err := m.a.Write([]byte("G4P0\n"))
	return err
}

// Send writes b directly, bypassing the pipeline.
func (m *Machine) Send(b gcode.Block) error {
	return m.write(b)
}

// PushState saves the modal state of the submitted program.
func (m *Machine) PushState() {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.stack = append(m.stack, m.vm.Snapshot())
}

// PopState restores the last saved modal state through the pipeline.
func (m *Machine) PopState(ctx context.Context) error {
	m.mx.Lock()
	if len(m.stack) == 0 {
		m.mx.Unlock()
		return ErrNoState
	}
	b := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	m.mx.Unlock()

	return m.Submit(ctx, b)
}

// DiscardState drops the last saved modal state.
func (m *Machine) DiscardState() {
	m.mx.Lock()
	defer m.mx.Unlock()
	if len(m.stack) > 0 {
		m.stack = m.stack[:len(m.stack)-1]
	}
}

// Modal returns the tracked modal state as a block.
func (m *Machine) Modal() gcode.Block {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.vm.Snapshot()
}

func (m *Machine) MachinePosition() coord.Point { return m.State().MPos }
func (m *Machine) WorkOffset() coord.Point      { return m.State().WCO }

// AllHomed reports whether the controller accepts motion.
func (m *Machine) AllHomed() bool {
	st := m.State()
	return st.Status != "" && !strings.HasPrefix(st.Status, "Alarm")
}

func (m *Machine) ResetProbes() { m.a.ResetProbes() }

// LastProbe returns the most recent probe result.
func (m *Machine) LastProbe() (ProbeResult, bool) {
	p := m.a.Probes()
	if len(p) == 0 {
		return ProbeResult{}, false
	}
	return p[len(p)-1], true
}

// LaserMode reports whether the controller runs in laser mode.
func (m *Machine) LaserMode() bool { return m.laserMode.Load() }

func (m *Machine) SetLaserMode(on bool) { m.laserMode.Store(on) }

// SpindleOn reports whether the submitted program left the spindle running.
func (m *Machine) SpindleOn() bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.vm.SpindleOn()
}
