// Package atc orchestrates automatic tool changes and machine
// calibration.
//
// An Orchestrator turns a single Request into a queue of script commands
// and replays it one command per tick from its own goroutine. Every
// field that describes the running sequence is owned by that goroutine;
// other goroutines send requests with Do and read the published Status.
package atc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/pubdata"
	"github.com/mastercactapus/gatc/script"
	"github.com/mastercactapus/gatc/sensor"
	"github.com/mastercactapus/gatc/toolrack"
	"github.com/mastercactapus/gatc/toolstate"
)

type call struct {
	req Request
	res chan error
}

type abortCause int

const (
	abortHalt abortCause = iota
	abortPlayer
)

func (c abortCause) String() string {
	if c == abortPlayer {
		return "player"
	}
	return "halt"
}

// Result is the outcome of the last calibration computation.
//
// ConfigKey names the settings the values should be saved to and is
// empty when they have no config home. Previous holds the configured
// values they would replace.
type Result struct {
	Calc      string    `json:"calc"`
	Values    []float64 `json:"values"`
	Previous  []float64 `json:"previous,omitempty"`
	ConfigKey string    `json:"config_key,omitempty"`
	At        time.Time `json:"at"`
}

// Status is a snapshot of the orchestrator published after every change.
type Status struct {
	State         State                 `json:"state"`
	Phase         string                `json:"phase"`
	Clamp         ClampState            `json:"clamp"`
	ActiveTool    int                   `json:"active_tool"`
	Queue         []string              `json:"queue"`
	WaitingManual bool                  `json:"waiting_manual"`
	OwnsPlayback  bool                  `json:"owns_playback"`
	ProbeOffset   toolrack.OneOffOffset `json:"probe_offset"`
	ProbeLaser    bool                  `json:"probe_laser"`
	Result        *Result               `json:"result,omitempty"`
}

// Orchestrator is the tool change state machine.
type Orchestrator struct {
	motion  Motion
	pipe    Pipeline
	bus     *pubdata.Bus
	halt    *halt.Signal
	offsets *toolstate.Offsets
	sensors *sensor.Debouncer
	vars    Variables
	mesh    MeshSink
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time

	rack atomic.Pointer[toolrack.Model]

	calls   chan call
	reloads chan *toolrack.Model
	halts   chan halt.Event

	laser sensor.Countdown
	beeps sensor.Countdown

	mx     sync.Mutex
	status atomic.Pointer[Status]
	idle   chan struct{}

	state         State
	phase         script.Phase
	clamp         ClampState
	queue         script.Queue
	lastPos       coord.Point
	jobWasPlaying bool
	ownsPlayback  bool
	waitingManual bool
	savedState    bool
	oneOff        toolrack.OneOffOffset
	probeAt       coord.Point
	probes        []coord.Point
	breakTol      float64
	breakPrev     float64
	result        *Result
}

// New returns an Orchestrator for the machine described by m.
func New(m *toolrack.Model, d Deps) *Orchestrator {
	o := &Orchestrator{
		motion:  d.Motion,
		pipe:    d.Pipeline,
		bus:     d.Bus,
		halt:    d.Halt,
		offsets: d.Offsets,
		sensors: d.Sensors,
		vars:    d.Variables,
		mesh:    d.Mesh,
		metrics: d.Metrics,
		log:     d.Log,
		now:     d.Now,

		calls:   make(chan call),
		reloads: make(chan *toolrack.Model, 1),
		halts:   make(chan halt.Event, 8),
	}
	if o.log == nil {
		o.log = slog.New(slog.DiscardHandler)
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.rack.Store(m)

	o.halt.Subscribe(func(ev halt.Event) {
		o.metrics.halted(ev.Reason)
		o.beep(BeepAlarm)
		select {
		case o.halts <- ev:
		default:
		}
	})
	o.publish()
	return o
}

// Model returns the coordinate model in use.
func (o *Orchestrator) Model() *toolrack.Model { return o.rack.Load() }

// Status returns the last published snapshot.
func (o *Orchestrator) Status() Status { return *o.status.Load() }

// Run drives the orchestrator until ctx is done, replaying one script
// command every period.
func (o *Orchestrator) Run(ctx context.Context, period time.Duration) error {
	go o.keepLaserAlive(ctx, time.Second)
	go o.playBeeps(ctx, 250*time.Millisecond)

	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-o.calls:
			c.res <- o.Handle(ctx, c.req)
		case m := <-o.reloads:
			o.rack.Store(m)
			o.log.Info("coordinate model reloaded", "tools", len(m.Tools), "overridden", m.Overridden)
			o.publish()
		case ev := <-o.halts:
			o.onHalt(ctx, ev)
		case <-t.C:
			o.Tick(ctx)
		}
	}
}

// Do hands req to the Run loop and waits for it to be accepted or rejected.
// It does not wait for a started sequence to finish.
func (o *Orchestrator) Do(ctx context.Context, req Request) error {
	c := call{req: req, res: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case o.calls <- c:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.res:
		return err
	}
}

// Reload replaces the coordinate model. The running sequence keeps the
// positions it was built with.
func (o *Orchestrator) Reload(ctx context.Context, m *toolrack.Model) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case o.reloads <- m:
		return nil
	}
}

// WaitIdle blocks until no sequence is running.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	o.mx.Lock()
	if o.status.Load().State == StateNone {
		o.mx.Unlock()
		return nil
	}
	if o.idle == nil {
		o.idle = make(chan struct{})
	}
	ch := o.idle
	o.mx.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func (o *Orchestrator) publish() {
	st := &Status{
		State:         o.state,
		Phase:         o.phase.String(),
		Clamp:         o.clamp,
		ActiveTool:    o.offsets.ActiveTool(),
		WaitingManual: o.waitingManual,
		OwnsPlayback:  o.ownsPlayback,
		ProbeOffset:   o.oneOff,
		ProbeLaser:    o.laser.Remaining() > 0,
		Result:        o.result,
	}
	for _, c := range o.queue.Commands() {
		st.Queue = append(st.Queue, c.String())
	}
	o.metrics.queued(len(st.Queue))

	o.mx.Lock()
	o.status.Store(st)
	if st.State == StateNone && o.idle != nil {
		close(o.idle)
		o.idle = nil
	}
	o.mx.Unlock()
}

// Handle runs req on the calling goroutine, which must be the one that
// calls Tick.
func (o *Orchestrator) Handle(ctx context.Context, req Request) error {
	o.log.Debug("request", "kind", req.Kind())
	defer o.publish()

	switch r := req.(type) {
	case ChangeTool:
		return o.changeTool(ctx, r.Tool)
	case HomeClamp:
		return o.homeClamp(ctx)
	case ClampTool:
		return o.clampTool(ctx)
	case LoosenTool:
		return o.loosenTool(ctx)
	case Calibrate:
		return o.startCalibrate(ctx)
	case CheckTool:
		return o.checkTool(ctx, r.Present)
	case CheckProbe:
		return o.checkProbe(ctx)
	case SetToolOffset:
		if err := o.waitForIdle(ctx); err != nil {
			return err
		}
		return o.saveToolOffset(ctx)
	case SetActiveTool:
		return o.setTool(ctx, r.Tool)
	case SetProbeOffset:
		o.oneOff = toolrack.OneOffOffset{X: r.X, Y: r.Y, Z: r.Z, Configured: true}
		return nil
	case SetReference:
		return o.offsets.SetReference(ctx)
	case ProbeLaser:
		o.probeLaser(r.On)
		return nil
	case Automation:
		return o.startAutomation(ctx, r)
	case XYZProbe:
		return o.startXYZProbe(ctx, r)
	case CalibrateAnchor:
		return o.startAnchor(ctx, r)
	case CalibrateRotaryCenter:
		return o.startRotaryCenter(ctx, r)
	case CalibrateRotaryHeight:
		return o.startRotaryHeight(ctx, r)
	case CalibrateValue:
		return o.startValue(ctx, r)
	case BreakCheck:
		return o.startBreakCheck(ctx, r)
	case GotoPosition:
		return o.gotoPosition(ctx, r)
	case Beep:
		o.beep(r.Pattern)
		return nil
	case Resume:
		if !o.waitingManual {
			return ErrNotWaiting
		}
		o.waitingManual = false
		o.log.Info("manual tool change confirmed")
		return nil
	case Abort:
		o.halt.Raise(halt.Manual, "abort requested")
		o.abort(ctx, abortHalt)
		return nil
	case ShowTools:
		o.showTools()
		return nil
	case ShowState:
		o.showState()
		return nil
	}
	return fmt.Errorf("%w: unhandled kind %s", ErrInvalidRequest, req.Kind())
}

// Tick replays at most one queued command. When the queue has drained
// it returns the machine to where the sequence started and restores the
// saved modal state.
func (o *Orchestrator) Tick(ctx context.Context) {
	if o.state == StateNone {
		return
	}
	if o.halt.Halted() {
		o.abort(ctx, abortHalt)
		return
	}
	if o.waitingManual {
		return
	}
	if o.jobWasPlaying && !o.playerPlaying() {
		o.abort(ctx, abortPlayer)
		return
	}

	if c, ok := o.queue.Pop(); ok {
		if err := o.exec(ctx, c); err != nil {
			o.fail(ctx, c, err)
		}
		if o.halt.Halted() {
			o.abort(ctx, abortHalt)
			return
		}
		o.publish()
		return
	}

	o.finish(ctx)
}

func (o *Orchestrator) exec(ctx context.Context, c script.Command) error {
	o.log.Debug("script", "cmd", c.String())
	o.metrics.command(c.Op)

	switch c.Op {
	case script.OpMotion:
		return o.pipe.Submit(ctx, c.Block)
	case script.OpCalibrate:
		o.queue.Prepend(calibrateScript(o.Model(), c.Tool, c.ClearZ, o.probeAt, o.laserMode())...)
		return nil
	}

	// internal ops act on the machine as it is after earlier motion
	if err := o.waitForIdle(ctx); err != nil {
		return err
	}
	switch c.Op {
	case script.OpPhase:
		o.phase = c.Phase
		return nil
	case script.OpHomeClamp:
		return o.homeClamp(ctx)
	case script.OpClamp:
		return o.clampTool(ctx)
	case script.OpLoosen:
		return o.loosenTool(ctx)
	case script.OpCheckToolPresent:
		return o.checkTool(ctx, true)
	case script.OpCheckToolAbsent:
		return o.checkTool(ctx, false)
	case script.OpCheckProbe:
		return o.checkProbe(ctx)
	case script.OpSaveToolOffset:
		return o.saveToolOffset(ctx)
	case script.OpSetTool:
		return o.setTool(ctx, c.Tool)
	case script.OpProbeLaser:
		o.probeLaser(c.On)
		return nil
	case script.OpChangePosition:
		return o.moveToChangePosition(ctx)
	case script.OpWaitManual:
		o.waitingManual = true
		o.phase = script.PhaseManual
		o.beep(BeepToolChange)
		o.log.Info("waiting for manual tool change")
		return nil
	case script.OpProbe:
		return o.probe(ctx, c)
	case script.OpCompute:
		return o.compute(c)
	case script.OpBreakCheck:
		return o.breakCheck()
	case script.OpBeginMesh:
		o.probes = nil
		return nil
	case script.OpCommitMesh:
		return o.commitMesh()
	}
	return fmt.Errorf("unhandled op %s", c.Op)
}

// fail turns an error from a script command into a halt.
func (o *Orchestrator) fail(ctx context.Context, c script.Command, err error) {
	if errors.Is(err, ErrHalted) || o.halt.Halted() || ctx.Err() != nil {
		return
	}
	o.raise(halt.Manual, fmt.Sprintf("%s: %v", c, err))
}

// raise halts the machine and returns an error describing why.
func (o *Orchestrator) raise(r halt.Reason, msg string) error {
	o.log.Error(msg, "reason", r)
	o.halt.Raise(r, msg)
	return fmt.Errorf("%w: %s: %s", ErrHalted, r, msg)
}

func (o *Orchestrator) waitForIdle(ctx context.Context) error {
	if err := o.pipe.WaitForIdle(ctx); err != nil {
		return err
	}
	if o.halt.Halted() {
		return ErrHalted
	}
	return nil
}

// ready checks that a new sequence may start.
func (o *Orchestrator) ready() error {
	if o.state != StateNone {
		return ErrBusy
	}
	if o.halt.Halted() {
		return ErrHalted
	}
	return nil
}

func (o *Orchestrator) begin(s State, cmds []script.Command) {
	o.motion.PushState()
	o.savedState = true
	o.lastPos = o.motion.MachinePosition()
	o.probeAt = o.Model().ProbePosition(o.oneOff)
	o.ownsPlayback = true
	o.jobWasPlaying = o.playerPlaying()
	o.probes = nil
	o.queue.Clear()
	o.queue.Push(cmds...)
	o.state = s
	o.metrics.sequenceStarted(s)
	o.log.Info("sequence started", "state", s, "commands", len(cmds))
	o.publish()
}

func (o *Orchestrator) finish(ctx context.Context) {
	m := o.Model()
	if o.state != StateAutomation {
		err := o.pipe.Submit(ctx, script.MachineMove(gcode.Z(m.Clearance.Z)).Block)
		if err == nil {
			err = o.pipe.Submit(ctx, script.MachineMove(gcode.X(o.lastPos.X), gcode.Y(o.lastPos.Y)).Block)
		}
		if err == nil && o.halt.Halted() {
			err = ErrHalted
		}
		if err != nil {
			o.finishFailed(ctx, "return to start position", err)
			return
		}
	}
	o.savedState = false
	if err := o.motion.PopState(ctx); err != nil {
		o.finishFailed(ctx, "restore modal state", err)
		return
	}
	if o.halt.Halted() {
		o.abort(ctx, abortHalt)
		return
	}

	o.log.Info("Done ATC", "state", o.state)
	o.state = StateNone
	o.phase = script.PhaseNone
	o.ownsPlayback = false
	o.jobWasPlaying = false
	o.beep(BeepDone)
	o.publish()
}

func (o *Orchestrator) finishFailed(ctx context.Context, step string, err error) {
	if !errors.Is(err, ErrHalted) && !o.halt.Halted() && ctx.Err() == nil {
		o.raise(halt.Manual, fmt.Sprintf("%s: %v", step, err))
	}
	o.abort(ctx, abortHalt)
}

// abort clears the running sequence. It leaves the queue empty and the
// state None before returning.
func (o *Orchestrator) abort(ctx context.Context, cause abortCause) {
	if o.state != StateNone {
		switch {
		case !o.savedState:
		case cause == abortPlayer:
			if err := o.motion.PopState(ctx); err != nil {
				o.log.Error("restore modal state", "err", err)
			}
		default:
			o.motion.DiscardState()
		}
		if cause == abortPlayer {
			o.log.Warn("Abort from ATC", "state", o.state)
		} else {
			o.log.Warn("sequence halted", "state", o.state)
		}
		o.metrics.sequenceAborted(cause)
	}

	o.queue.Clear()
	o.state = StateNone
	o.phase = script.PhaseNone
	o.ownsPlayback = false
	o.jobWasPlaying = false
	o.waitingManual = false
	o.savedState = false
	o.probes = nil
	if o.Model().Caps.ATC {
		o.clamp = Unhomed
	}
	o.publish()
}

func (o *Orchestrator) onHalt(ctx context.Context, ev halt.Event) {
	o.log.Debug("halt", "reason", ev.Reason, "msg", ev.Message)
	o.abort(ctx, abortHalt)
}

func (o *Orchestrator) playerPlaying() bool {
	ps, err := pubdata.Lookup[pubdata.PlayerStatus](o.bus, pubdata.GetPlayerStatus)
	return err == nil && ps.Playing
}

func (o *Orchestrator) spindleRunning() bool {
	ss, err := pubdata.Lookup[pubdata.SpindleStatus](o.bus, pubdata.GetSpindleStatus)
	return err == nil && ss.Running
}

func (o *Orchestrator) laserMode() bool {
	ls, err := pubdata.Lookup[pubdata.LaserStatus](o.bus, pubdata.GetLaserStatus)
	return err == nil && ls.Mode
}

func (o *Orchestrator) setSwitch(name string, on bool) error {
	return o.bus.Set(pubdata.SetSwitchState, pubdata.SwitchState{Name: name, On: on})
}

func (o *Orchestrator) showTools() {
	m := o.Model()
	o.log.Info("probe", "mx", m.Probe.X, "my", m.Probe.Y, "mz", m.Probe.Z)
	for _, s := range m.Tools {
		if !s.Valid {
			continue
		}
		o.log.Info("tool", "n", s.Index, "mx", s.X, "my", s.Y, "mz", s.Z)
	}
}

func (o *Orchestrator) showState() {
	rec := o.offsets.Record()
	o.log.Info("tool state",
		"tool", rec.ActiveTool,
		"ref", rec.ReferenceMZ,
		"cur", rec.CurrentMZ,
		"offset", rec.ToolLengthOffset,
		"clamp", o.clamp,
	)
}
