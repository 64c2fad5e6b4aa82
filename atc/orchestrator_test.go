package atc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mastercactapus/gatc/config"
	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/machine"
	"github.com/mastercactapus/gatc/meshlevel"
	"github.com/mastercactapus/gatc/pubdata"
	"github.com/mastercactapus/gatc/sensor"
	"github.com/mastercactapus/gatc/toolrack"
	"github.com/mastercactapus/gatc/toolstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMachine struct {
	mx sync.Mutex

	pos, wco coord.Point
	homed    bool

	lines  []string
	deltas []string

	probeZ    float64
	probeFail bool
	last      machine.ProbeResult
	hasLast   bool

	pushes, pops, discards int

	moving  atomic.Bool
	sensors *sensor.Debouncer

	// reject makes the controller refuse lines starting with it, which
	// halts the machine like machine.Machine does.
	reject string
	halt   *halt.Signal
	popErr error
}

func hasWord(b gcode.Block, w byte, arg float64) bool {
	for _, g := range b {
		if g.W == w && g.Arg == arg {
			return true
		}
	}
	return false
}

func (f *fakeMachine) Submit(_ context.Context, b gcode.Block) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.reject != "" && strings.HasPrefix(b.String(), f.reject) {
		f.halt.Raise(halt.ControllerError, b.String()+": error:15")
		return nil
	}
	f.lines = append(f.lines, b.String())

	if hasWord(b, 'G', 38.2) {
		f.last = machine.ProbeResult{Point: f.pos.WithZ(f.probeZ), Valid: !f.probeFail}
		f.hasLast = true
		return nil
	}
	if hasWord(b, 'G', 91) || hasWord(b, 'G', 10) {
		return nil
	}
	off := f.wco
	if hasWord(b, 'G', 53) {
		off = coord.Point{}
	}
	if ok, x := b.Arg('X'); ok {
		f.pos.X = x + off.X
	}
	if ok, y := b.Arg('Y'); ok {
		f.pos.Y = y + off.Y
	}
	return nil
}

func (f *fakeMachine) WaitForIdle(context.Context) error { return nil }

func (f *fakeMachine) MachinePosition() coord.Point {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.pos
}

func (f *fakeMachine) WorkOffset() coord.Point { return f.wco }
func (f *fakeMachine) AllHomed() bool          { return f.homed }
func (f *fakeMachine) PushState()              { f.pushes++ }
func (f *fakeMachine) DiscardState()           { f.discards++ }

func (f *fakeMachine) PopState(context.Context) error {
	f.pops++
	return f.popErr
}

func (f *fakeMachine) DeltaMove(_ context.Context, axis byte, dist, _ float64) error {
	f.deltas = append(f.deltas, fmt.Sprintf("%c%g", axis, dist))
	f.moving.Store(true)
	for range 3 {
		f.sensors.Poll()
	}
	f.moving.Store(false)
	return nil
}

func (f *fakeMachine) SyncPosition(context.Context) error { return nil }
func (f *fakeMachine) ResetProbes()                       { f.hasLast = false }

func (f *fakeMachine) LastProbe() (machine.ProbeResult, bool) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.last, f.hasLast
}

func (f *fakeMachine) IsMoving() bool { return f.moving.Load() }
func (f *fakeMachine) Stop()          { f.moving.Store(false) }

type fakeVars map[int]float64

func (v fakeVars) SetVariable(n int, val float64) { v[n] = val }

type fakeMesh struct{ mesh *meshlevel.Mesh }

func (f *fakeMesh) SetMesh(m *meshlevel.Mesh) { f.mesh = m }

type env struct {
	o     *Orchestrator
	fm    *fakeMachine
	bus   *pubdata.Bus
	halt  *halt.Signal
	store *toolstate.Memory
	vars  fakeVars
	mesh  *fakeMesh

	mx          sync.Mutex
	spindle     bool
	laser       bool
	playing     bool
	probeAt     time.Time
	detections  []bool
	detector    atomic.Bool
	endstop     atomic.Bool
	switchCalls []pubdata.SwitchState
}

func newEnv(t *testing.T, cfg *config.Config, rec toolstate.Record) *env {
	t.Helper()
	ctx := context.Background()

	e := &env{
		bus:   pubdata.NewBus(),
		halt:  new(halt.Signal),
		store: new(toolstate.Memory),
		vars:  make(fakeVars),
		mesh:  new(fakeMesh),
	}
	e.endstop.Store(true)
	require.NoError(t, e.store.Save(ctx, rec))
	offsets, err := toolstate.Open(ctx, e.store)
	require.NoError(t, err)

	e.fm = &fakeMachine{probeZ: -120, homed: true, halt: e.halt}
	e.fm.sensors = sensor.NewDebouncer(
		sensor.NewInput(e.endstop.Load, 1),
		sensor.NewInput(e.detector.Load, 1),
		e.fm,
	)

	e.bus.HandleGet(pubdata.GetSpindleStatus, pubdata.Getter(func() pubdata.SpindleStatus {
		return pubdata.SpindleStatus{Running: e.spindle}
	}))
	e.bus.HandleGet(pubdata.GetLaserStatus, pubdata.Getter(func() pubdata.LaserStatus {
		return pubdata.LaserStatus{Mode: e.laser}
	}))
	e.bus.HandleGet(pubdata.GetPlayerStatus, pubdata.Getter(func() pubdata.PlayerStatus {
		return pubdata.PlayerStatus{Playing: e.playing}
	}))
	e.bus.HandleGet(pubdata.GetProbeStatus, pubdata.Getter(func() pubdata.ProbeStatus {
		return pubdata.ProbeStatus{LastTriggered: e.probeAt}
	}))
	e.bus.HandleSet(pubdata.SetSwitchState, pubdata.Setter(func(s pubdata.SwitchState) error {
		e.mx.Lock()
		defer e.mx.Unlock()
		e.switchCalls = append(e.switchCalls, s)
		if s.Name == detectorSwitch && s.On && len(e.detections) > 0 {
			e.detector.Store(e.detections[0])
			e.detections = e.detections[1:]
		}
		return nil
	}))

	e.o = New(toolrack.New(cfg), Deps{
		Motion:    e.fm,
		Pipeline:  e.fm,
		Bus:       e.bus,
		Halt:      e.halt,
		Offsets:   offsets,
		Sensors:   e.fm.sensors,
		Variables: e.vars,
		Mesh:      e.mesh,
		Metrics:   NewMetrics(nil),
		Now:       func() time.Time { return time.Unix(1000, 0) },
	})
	return e
}

func activeTool(n int) toolstate.Record {
	return toolstate.Record{ActiveTool: n, ReferenceMZ: -10}
}

// drain ticks until the sequence ends or waits for the operator.
func (e *env) drain(t *testing.T) {
	t.Helper()
	for range 1000 {
		st := e.o.Status()
		if st.State == StateNone || st.WaitingManual {
			return
		}
		e.o.Tick(context.Background())
	}
	t.Fatal("sequence did not finish")
}

func TestChangeTool_PickFromEmpty(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(-1))
	e.detections = []bool{true, false}

	require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: 3}))
	st := e.o.Status()
	assert.Equal(t, StatePick, st.State)
	assert.True(t, st.OwnsPlayback)
	assert.Equal(t, []string{
		"M497.2",
		"G53G0Z-3",
		"G53G0X-3Y-144",
		"M492.1",
		"M490.2",
		"G53G0X-3Y-144",
		"G53G1Z-95F500",
		"G53G1Z-105F60",
		"M490.1",
		"G53G0Z-10",
		"M492.2",
		"M493.2T3",
		"M491",
	}, st.Queue)

	e.drain(t)
	st = e.o.Status()
	assert.Equal(t, StateNone, st.State)
	assert.Empty(t, st.Queue)
	assert.False(t, st.OwnsPlayback)
	assert.Equal(t, Clamped, st.Clamp)
	assert.Equal(t, 3, st.ActiveTool)
	assert.False(t, e.halt.Halted())

	assert.Equal(t, []string{"Y0.5", "Y-1", "Y0.5", "C8", "C-3", "C-1", "C1", "Y0.5", "Y-1", "Y0.5"}, e.fm.deltas)
	assert.Contains(t, e.fm.lines, "G91G38.2Z-135F300")
	assert.Contains(t, e.fm.lines, "G91G38.2Z-3F60")
	assert.Contains(t, e.fm.lines, "G43.1Z-110")
	assert.Equal(t, []string{"G53G0Z-3", "G53G0X0Y0"}, e.fm.lines[len(e.fm.lines)-2:])
	assert.Equal(t, 1, e.fm.pushes)
	assert.Equal(t, 1, e.fm.pops)

	rec, err := e.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, toolstate.Record{ActiveTool: 3, ReferenceMZ: -10, CurrentMZ: -120, ToolLengthOffset: -110}, rec)
}

func TestChangeTool_DropToEmpty(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(2))
	e.detections = []bool{false, true}

	require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: -1}))
	st := e.o.Status()
	assert.Equal(t, StateDrop, st.State)
	assert.Equal(t, "M497.1", st.Queue[0])
	assert.Equal(t, "M492.1", st.Queue[len(st.Queue)-1])
	assert.NotContains(t, st.Queue, "M491", "an empty spindle is not calibrated")

	e.drain(t)
	assert.Equal(t, -1, e.o.Status().ActiveTool)
	assert.Equal(t, Loosed, e.o.Status().Clamp)
	assert.False(t, e.halt.Halted())
}

func TestChangeTool_Manual(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Machine.ATC = false
	e := newEnv(t, cfg, activeTool(2))

	assert.ErrorIs(t, e.o.Handle(ctx, Resume{}), ErrNotWaiting)

	require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: 5}))
	st := e.o.Status()
	assert.Equal(t, StateChange, st.State)
	assert.Equal(t, []string{"(change_position)", "(wait_manual)", "M493.2T5", "M491"}, st.Queue)

	e.drain(t)
	st = e.o.Status()
	assert.True(t, st.WaitingManual)
	assert.Equal(t, StateChange, st.State)
	assert.Equal(t, "manual", st.Phase)
	assert.Equal(t, 2, st.ActiveTool)
	assert.Equal(t, []string{"G53G0Z-3", "G53G0X-75Y-3"}, e.fm.lines)

	// ticks do nothing until the operator confirms
	e.o.Tick(ctx)
	assert.Len(t, e.o.Status().Queue, 2)

	require.NoError(t, e.o.Handle(ctx, Resume{}))
	e.drain(t)
	st = e.o.Status()
	assert.Equal(t, StateNone, st.State)
	assert.Equal(t, 5, st.ActiveTool)
	assert.Empty(t, e.fm.deltas, "no clamp or detector without a changer")
}

func TestChangeTool_RejectedMove(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(-1))
	e.detections = []bool{true, false}
	e.fm.reject = "G53G0X-3Y-144"

	require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: 3}))
	e.drain(t)

	st := e.o.Status()
	assert.Equal(t, StateNone, st.State)
	assert.Empty(t, st.Queue)
	assert.False(t, st.OwnsPlayback)
	assert.Equal(t, Unhomed, st.Clamp)
	assert.Equal(t, -1, st.ActiveTool)
	assert.True(t, e.halt.Halted())
	assert.Equal(t, halt.ControllerError, e.halt.Reason())

	assert.Equal(t, []string{"G53G0Z-3"}, e.fm.lines, "nothing is sent after the rejected move")
	assert.Equal(t, 1, e.fm.discards)
	assert.Zero(t, e.fm.pops)
}

func TestChangeTool_FinishFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("return move", func(t *testing.T) {
		e := newEnv(t, config.Default(), activeTool(-1))
		e.detections = []bool{true, false}
		e.fm.reject = "G53G0X0Y0"

		require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: 3}))
		e.drain(t)

		st := e.o.Status()
		assert.Equal(t, StateNone, st.State)
		assert.Empty(t, st.Queue)
		assert.Equal(t, Unhomed, st.Clamp)
		assert.Equal(t, halt.ControllerError, e.halt.Reason())
		assert.Equal(t, 1, e.fm.discards)
		assert.Zero(t, e.fm.pops)
	})

	t.Run("restore modal state", func(t *testing.T) {
		e := newEnv(t, config.Default(), activeTool(-1))
		e.detections = []bool{true, false}
		e.fm.popErr = errors.New("serial port closed")

		require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: 3}))
		e.drain(t)

		st := e.o.Status()
		assert.Equal(t, StateNone, st.State)
		assert.Empty(t, st.Queue)
		assert.True(t, e.halt.Halted())
		assert.Equal(t, halt.Manual, e.halt.Reason())
		ev, _ := e.halt.Event()
		assert.Contains(t, ev.Message, "restore modal state: serial port closed")
		assert.Equal(t, 1, e.fm.pops)
		assert.Zero(t, e.fm.discards, "a popped state is not discarded again")
	})
}

func TestChangeTool_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("same tool", func(t *testing.T) {
		e := newEnv(t, config.Default(), activeTool(3))
		require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: 3}))
		assert.Equal(t, StateNone, e.o.Status().State)
		assert.Empty(t, e.o.Status().Queue)
		assert.Zero(t, e.fm.pushes)
	})

	t.Run("busy", func(t *testing.T) {
		e := newEnv(t, config.Default(), activeTool(-1))
		require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: 3}))
		before := e.o.Status().Queue

		assert.ErrorIs(t, e.o.Handle(ctx, ChangeTool{Tool: 4}), ErrBusy)
		assert.Equal(t, before, e.o.Status().Queue)
		assert.Equal(t, StatePick, e.o.Status().State)
		assert.Equal(t, 1, e.fm.pushes)
	})

	t.Run("spindle running", func(t *testing.T) {
		e := newEnv(t, config.Default(), activeTool(-1))
		e.spindle = true
		assert.ErrorIs(t, e.o.Handle(ctx, ChangeTool{Tool: 3}), ErrHalted)
		assert.Equal(t, halt.SpindleRunning, e.halt.Reason())
		assert.Equal(t, StateNone, e.o.Status().State)
		assert.Empty(t, e.o.Status().Queue)
	})

	t.Run("invalid tool", func(t *testing.T) {
		e := newEnv(t, config.Default(), activeTool(-1))
		assert.ErrorIs(t, e.o.Handle(ctx, ChangeTool{Tool: 150}), ErrHalted)
		assert.Equal(t, halt.ATCToolInvalid, e.halt.Reason())
	})

	t.Run("laser mode", func(t *testing.T) {
		e := newEnv(t, config.Default(), activeTool(-1))
		e.laser = true
		assert.ErrorIs(t, e.o.Handle(ctx, ChangeTool{Tool: 3}), ErrLaserMode)
		assert.False(t, e.halt.Halted())
	})

	t.Run("halted", func(t *testing.T) {
		e := newEnv(t, config.Default(), activeTool(-1))
		e.halt.Raise(halt.EStop, "")
		assert.ErrorIs(t, e.o.Handle(ctx, ChangeTool{Tool: 3}), ErrHalted)
		assert.Equal(t, StateNone, e.o.Status().State)
	})
}

func TestChangeTool_DetectorMismatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(-1))
	e.detections = []bool{false}

	require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: 3}))
	e.drain(t)

	assert.Equal(t, halt.ATCNoTool, e.halt.Reason())
	st := e.o.Status()
	assert.Equal(t, StateNone, st.State)
	assert.Empty(t, st.Queue)
	assert.Equal(t, Unhomed, st.Clamp)
	assert.Equal(t, -1, st.ActiveTool)
	assert.Equal(t, 1, e.fm.discards)
	assert.Zero(t, e.fm.pops)
}

func TestAbort(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(-1))
	e.detections = []bool{true, false}

	require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: 3}))
	for range 5 {
		e.o.Tick(ctx)
	}
	require.NotEmpty(t, e.o.Status().Queue)

	require.NoError(t, e.o.Handle(ctx, Abort{}))
	st := e.o.Status()
	assert.Equal(t, StateNone, st.State)
	assert.Empty(t, st.Queue)
	assert.False(t, st.OwnsPlayback)
	assert.Equal(t, Unhomed, st.Clamp)
	assert.Equal(t, halt.Manual, e.halt.Reason())
	assert.Equal(t, 1, e.fm.discards)

	// idle abort still halts
	e.halt.Clear()
	require.NoError(t, e.o.Handle(ctx, Abort{}))
	assert.True(t, e.halt.Halted())
	assert.Equal(t, 1, e.fm.discards)
}

func TestTick_PlayerStopped(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Machine.ATC = false
	e := newEnv(t, cfg, activeTool(2))
	e.playing = true

	require.NoError(t, e.o.Handle(ctx, ChangeTool{Tool: 5}))
	e.o.Tick(ctx)
	assert.Equal(t, StateChange, e.o.Status().State)

	e.playing = false
	e.o.Tick(ctx)
	st := e.o.Status()
	assert.Equal(t, StateNone, st.State)
	assert.Empty(t, st.Queue)
	assert.False(t, st.WaitingManual)
	assert.Equal(t, 1, e.fm.pops)
	assert.False(t, e.halt.Halted())
}

func TestBreakCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("tolerance too small", func(t *testing.T) {
		e := newEnv(t, config.Default(), activeTool(3))
		assert.ErrorIs(t, e.o.Handle(ctx, BreakCheck{Tolerance: 0.01}), ErrToleranceTooSmall)
		assert.Equal(t, StateNone, e.o.Status().State)
		assert.Empty(t, e.fm.lines)
		assert.Zero(t, e.fm.pushes)
	})

	rec := toolstate.Record{ActiveTool: 3, ReferenceMZ: -10, CurrentMZ: -120, ToolLengthOffset: -110}

	t.Run("within tolerance", func(t *testing.T) {
		e := newEnv(t, config.Default(), rec)
		e.fm.probeZ = -120.04
		require.NoError(t, e.o.Handle(ctx, BreakCheck{Tolerance: 0.1}))
		assert.Equal(t, StateAutomation, e.o.Status().State)
		e.drain(t)
		assert.False(t, e.halt.Halted())
	})

	t.Run("broken", func(t *testing.T) {
		e := newEnv(t, config.Default(), rec)
		e.fm.probeZ = -119.5
		require.NoError(t, e.o.Handle(ctx, BreakCheck{Tolerance: 0.1}))
		e.drain(t)
		assert.Equal(t, halt.ToolBreak, e.halt.Reason())
		assert.Equal(t, StateNone, e.o.Status().State)
	})
}

func TestCalibrate_ReferenceReset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), toolstate.Record{ActiveTool: 3, ReferenceMZ: 5})

	require.NoError(t, e.o.Handle(ctx, Calibrate{}))
	assert.Equal(t, StateCalibrate, e.o.Status().State)
	e.drain(t)

	assert.Equal(t, halt.Manual, e.halt.Reason())
	assert.Equal(t, StateNone, e.o.Status().State)
	rec, err := e.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, toolstate.ReferenceUnset, rec.ReferenceMZ)
	assert.Equal(t, -120.0, rec.CurrentMZ)
	assert.Equal(t, -110.0, rec.ToolLengthOffset)
	assert.NotContains(t, e.fm.lines, "G43.1Z-110")
}

func TestCalibrate_ProbeFail(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(3))
	e.fm.probeFail = true

	require.NoError(t, e.o.Handle(ctx, Calibrate{}))
	e.drain(t)
	assert.Equal(t, halt.ProbeFail, e.halt.Reason())
	assert.Empty(t, e.o.Status().Queue)
}

func TestCalibrate_WirelessProbe(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Machine.WirelessProbe = true

	e := newEnv(t, cfg, activeTool(0))
	e.probeAt = time.Unix(998, 0)
	require.NoError(t, e.o.Handle(ctx, Calibrate{}))
	e.drain(t)
	assert.False(t, e.halt.Halted())

	e = newEnv(t, cfg, activeTool(0))
	e.probeAt = time.Unix(900, 0)
	require.NoError(t, e.o.Handle(ctx, Calibrate{}))
	e.drain(t)
	assert.Equal(t, halt.ProbeInvalid, e.halt.Reason())
}

func TestProbeOffset_ResetOnToolChange(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(3))

	require.NoError(t, e.o.Handle(ctx, SetProbeOffset{X: 1, Y: 2, Z: 3}))
	assert.Equal(t, toolrack.OneOffOffset{X: 1, Y: 2, Z: 3, Configured: true}, e.o.Status().ProbeOffset)

	// the offset applies to the calibration started with it
	require.NoError(t, e.o.Handle(ctx, Calibrate{}))
	e.drain(t)
	assert.Contains(t, e.fm.lines, "G53G0X-2Y-52")

	require.NoError(t, e.o.Handle(ctx, SetActiveTool{Tool: 4}))
	assert.Equal(t, toolrack.OneOffOffset{}, e.o.Status().ProbeOffset)
	assert.Equal(t, 4, e.o.Status().ActiveTool)
}

func TestGotoPosition(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(3))

	require.NoError(t, e.o.Handle(ctx, GotoPosition{Target: GotoAnchor1}))
	assert.Equal(t, []string{"G53G0Z-3", "G53G0X-359Y-234"}, e.fm.lines)
	assert.Equal(t, 1, e.fm.pushes)
	assert.Equal(t, 1, e.fm.pops)
	assert.Equal(t, StateNone, e.o.Status().State)

	x, y, a := 10.0, 20.0, 90.0
	e.fm.lines = nil
	require.NoError(t, e.o.Handle(ctx, GotoPosition{Target: GotoWorkXY, X: &x, Y: &y, A: &a, B: &a}))
	assert.Equal(t, []string{"G53G0Z-3", "G90G0X10Y20"}, e.fm.lines, "A needs a rotary axis")

	assert.ErrorIs(t, e.o.Handle(ctx, GotoPosition{Target: GotoMachineXY}), ErrInvalidRequest)
}

func TestAutomation_ZProbe(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(0))

	require.NoError(t, e.o.Handle(ctx, Automation{X: 10, Y: 20, ZProbe: true, OffsetX: 1, OffsetY: 2}))
	st := e.o.Status()
	assert.Equal(t, StateAutomation, st.State)
	assert.Equal(t, []string{
		"M497.5",
		"G53G0Z-3",
		"G90G0X11Y22",
		"G91G38.2Z-142F300",
		"G91G38.2Z-3F60",
		"G10L20P0Z0",
		"G91G0Z2",
		"G90",
	}, st.Queue)

	e.drain(t)
	assert.Equal(t, StateNone, e.o.Status().State)
	assert.Equal(t, "G90", e.fm.lines[len(e.fm.lines)-1], "automation does not return to the start")
}

func TestAutomation_ChangesToProbe(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(-1))
	e.laser = true
	assert.ErrorIs(t, e.o.Handle(ctx, Automation{X: 1, Y: 1, Margin: true}), ErrHalted)
	assert.Equal(t, halt.LaserMode, e.halt.Reason())

	e = newEnv(t, config.Default(), activeTool(-1))
	require.NoError(t, e.o.Handle(ctx, Automation{X: 0, Y: 0, Margin: true, MarginX: 50, MarginY: 40}))
	q := e.o.Status().Queue
	assert.Equal(t, "M497.2", q[0])
	assert.Contains(t, q, "M493.2T0")
	assert.Contains(t, q, "M491")
	assert.Equal(t, []string{
		"M497.4",
		"M494.1",
		"G53G0Z-3",
		"G90G0X0Y0",
		"G90G1X0Y40F1000",
		"G90G1X50Y40F1000",
		"G90G1X50Y0F1000",
		"G90G1X0Y0F1000",
		"M494.2",
	}, q[len(q)-9:])

	assert.ErrorIs(t, newEnv(t, config.Default(), activeTool(0)).o.Handle(ctx, Automation{X: 1, Y: 1}), ErrInvalidRequest)
}

func TestAutomation_Level(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(0))
	e.fm.wco = coord.Point{X: -200, Y: -100, Z: -50}

	require.NoError(t, e.o.Handle(ctx, Automation{
		X: 5, Y: 5, Level: true,
		SizeX: 10, SizeY: 10, GridX: 2, GridY: 2, Height: 3,
	}))
	e.drain(t)
	require.False(t, e.halt.Halted())
	require.NotNil(t, e.mesh.mesh)

	pts := e.mesh.mesh.Points()
	require.Len(t, pts, 4)
	assert.Equal(t, coord.Point{X: 5, Y: 5, Z: 0}, pts[0])
	assert.Contains(t, e.fm.lines, "G91G38.2Z-8F60")
	assert.Equal(t, 2, e.mesh.mesh.Triangles())
}

func TestXYZProbe(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(0))

	require.NoError(t, e.o.Handle(ctx, XYZProbe{Diameter: 4, Height: 9}))
	q := e.o.Status().Queue
	assert.Equal(t, []string{
		"M497.5",
		"G91G38.2Z-35F60",
		"G10L20P0Z9",
		"G91G0Z2",
		"G91G38.2X-35F60",
		"G10L20P0X2",
		"G91G0X5",
		"G91G38.2Y-35F60",
		"G10L20P0Y2",
		"G91G0Y5",
		"G91G0Z15",
		"G91G0X-7Y-7",
		"G90",
	}, q)
}

func TestCalibrateAnchor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(0))

	e.fm.homed = false
	assert.ErrorIs(t, e.o.Handle(ctx, CalibrateAnchor{Anchor: 1}), ErrNotHomed)
	assert.Equal(t, StateNone, e.o.Status().State)

	e.fm.homed = true
	require.NoError(t, e.o.Handle(ctx, CalibrateAnchor{Anchor: 1, Var: 100}))
	e.drain(t)
	require.False(t, e.halt.Halted())

	// probes report the approach position, the face is one tip radius past it
	assert.Equal(t, fakeVars{100: -368, 101: -243}, e.vars)
	res := e.o.Status().Result
	require.NotNil(t, res)
	assert.Equal(t, "anchor1", res.Calc)
	assert.Equal(t, []float64{-368, -243}, res.Values)
	assert.Equal(t, []float64{-359, -234}, res.Previous)
	assert.Equal(t, "coordinate.anchor1", res.ConfigKey)
}

func TestCalibrateRotaryHeight(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, config.Default(), activeTool(0))

	assert.ErrorIs(t, e.o.Handle(ctx, CalibrateRotaryHeight{Points: 3}), ErrInvalidRequest)

	e.fm.probeZ = -80
	require.NoError(t, e.o.Handle(ctx, CalibrateRotaryHeight{Points: 4, Var: 7}))
	e.drain(t)
	require.False(t, e.halt.Halted())
	assert.Equal(t, fakeVars{7: -80}, e.vars)
	assert.Contains(t, e.fm.lines, "G53G0A270")
	res := e.o.Status().Result
	require.NotNil(t, res)
	assert.Equal(t, []float64{-80}, res.Values)
	assert.Len(t, res.Previous, 1)
	assert.Empty(t, res.ConfigKey)
}

func TestRegisterBus(t *testing.T) {
	e := newEnv(t, config.Default(), activeTool(-1))
	e.o.RegisterBus(e.bus)

	_, err := e.bus.Get(pubdata.GetToolStatus)
	assert.ErrorIs(t, err, ErrNoTool)

	mo, err := pubdata.Lookup[pubdata.MachineOffsets](e.bus, pubdata.GetMachineOffsets)
	require.NoError(t, err)
	assert.Equal(t, -359.0, mo.Anchor1X)
	assert.Equal(t, -3.0, mo.ClearanceZ)

	e.detector.Store(true)
	ps, err := pubdata.Lookup[pubdata.PinStatus](e.bus, pubdata.GetATCPinStatus)
	require.NoError(t, err)
	assert.Equal(t, pubdata.PinStatus{Endstop: true, Detector: true}, ps)

	require.NoError(t, e.bus.Set(pubdata.AbortATC, nil))
	assert.Equal(t, halt.Manual, e.halt.Reason())
}

func TestRun_PlayerHook(t *testing.T) {
	cfg := config.Default()
	cfg.Machine.ATC = false
	e := newEnv(t, cfg, activeTool(-1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.o.Run(ctx, time.Millisecond) }()

	handled, err := e.o.PlayerHook(ctx, gcode.Block{gcode.G(0), gcode.X(1)})
	require.NoError(t, err)
	assert.False(t, handled)

	// the hook returns once the operator confirmed and the sequence ended
	res := make(chan error, 1)
	go func() {
		_, err := e.o.PlayerHook(ctx, gcode.Block{gcode.M(6), gcode.Axis('T', 3)})
		res <- err
	}()
	require.Eventually(t, func() bool { return e.o.Status().WaitingManual }, time.Second, time.Millisecond)
	require.NoError(t, e.o.Do(ctx, Resume{}))
	require.NoError(t, <-res)
	assert.Equal(t, 3, e.o.Status().ActiveTool)

	require.NoError(t, e.o.WaitIdle(ctx))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
