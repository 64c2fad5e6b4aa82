package atc

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/script"
	"github.com/mastercactapus/gatc/toolrack"
)

// minBreakTolerance is the smallest length change a break check can
// tell apart from probe repeatability.
const minBreakTolerance = 0.05

func (o *Orchestrator) startCalibration(cmds []script.Command) error {
	if err := o.ready(); err != nil {
		return err
	}
	if !o.motion.AllHomed() {
		return ErrNotHomed
	}
	o.begin(StateAutomation, cmds)
	return nil
}

// probePair is a fast approach followed by a recorded slow probe.
func probePair(m *toolrack.Model, axis byte, travel float64) []script.Command {
	slow := m.ProbeRetract + 1
	if travel < 0 {
		slow = -slow
	}
	return []script.Command{
		script.Probe(axis, travel, m.ProbeFastRate).WithRetract(m.ProbeRetract),
		script.Probe(axis, slow, m.ProbeSlowRate).Recorded(),
	}
}

// faceProbe probes a side face from (x, y) at the calibration depth.
func faceProbe(m *toolrack.Model, x, y float64, axis byte, travel float64) []script.Command {
	cmds := []script.Command{
		script.MachineMove(gcode.Z(m.Clearance.Z)),
		script.MachineMove(gcode.X(x), gcode.Y(y)),
		script.MachineFeed(m.FastZRate, gcode.Z(m.Calibration.Depth)),
	}
	cmds = append(cmds, probePair(m, axis, travel)...)
	return append(cmds, script.MachineMove(gcode.Z(m.Clearance.Z)))
}

func computeInto(c script.Calc, v int) script.Command {
	cmd := script.Compute(c, 0)
	cmd.Var = v
	return cmd
}

func (o *Orchestrator) startAnchor(_ context.Context, r CalibrateAnchor) error {
	m := o.Model()
	a, calc := m.Anchor1, script.CalcAnchor1
	if r.Anchor == 2 {
		a, calc = m.Anchor2(), script.CalcAnchor2
	}
	c := m.Calibration
	half := m.AnchorWidth / 2

	cmds := []script.Command{script.SetPhase(script.PhaseCalibrate)}
	cmds = append(cmds, faceProbe(m, a.X-c.Approach, a.Y+half, 'X', c.Approach+c.Travel)...)
	cmds = append(cmds, faceProbe(m, a.X+half, a.Y-c.Approach, 'Y', c.Approach+c.Travel)...)
	cmds = append(cmds, computeInto(calc, r.Var))
	return o.startCalibration(cmds)
}

// rotaryStations returns the two machine X positions along the rotary
// axis where its centerline is measured.
func rotaryStations(m *toolrack.Model) (float64, float64) {
	c := m.RotaryCenter()
	return c.X + m.RotationWidth, c.X + 2*m.RotationWidth
}

func (o *Orchestrator) startRotaryCenter(_ context.Context, r CalibrateRotaryCenter) error {
	m := o.Model()
	c := m.RotaryCenter()
	cal := m.Calibration
	reach := m.RotationWidth/2 + cal.Approach
	travel := cal.Approach + cal.Travel

	cmds := []script.Command{script.SetPhase(script.PhaseCalibrate)}
	x1, x2 := rotaryStations(m)
	for _, x := range []float64{x1, x2} {
		cmds = append(cmds, faceProbe(m, x, c.Y+reach, 'Y', -travel)...)
		cmds = append(cmds, faceProbe(m, x, c.Y-reach, 'Y', travel)...)
	}
	cmds = append(cmds, computeInto(script.CalcRotaryCenter, r.Var))
	return o.startCalibration(cmds)
}

func (o *Orchestrator) startRotaryHeight(_ context.Context, r CalibrateRotaryHeight) error {
	if r.Points != 2 && r.Points != 4 {
		return fmt.Errorf("%w: rotary height needs 2 or 4 points", ErrInvalidRequest)
	}
	m := o.Model()
	c := m.RotaryCenter()
	x, _ := rotaryStations(m)
	step := 360 / float64(r.Points)

	cmds := []script.Command{
		script.SetPhase(script.PhaseCalibrate),
		script.MachineMove(gcode.Z(m.Clearance.Z)),
		script.MachineMove(gcode.X(x), gcode.Y(c.Y)),
	}
	for i := 0; i < r.Points; i++ {
		cmds = append(cmds, script.MachineMove(gcode.A(float64(i)*step)))
		cmds = append(cmds, probePair(m, 'Z', m.Calibration.Depth-m.Clearance.Z)...)
		cmds = append(cmds, script.MachineMove(gcode.Z(m.Clearance.Z)))
	}
	cmds = append(cmds,
		script.MachineMove(gcode.A(0)),
		computeInto(script.CalcRotaryHeight, r.Var),
	)
	return o.startCalibration(cmds)
}

func (o *Orchestrator) startValue(_ context.Context, r CalibrateValue) error {
	axis := strings.ToUpper(r.Axis)
	if len(axis) != 1 || !strings.Contains("XYZ", axis) || r.Travel == 0 {
		return fmt.Errorf("%w: value calibration needs an X, Y or Z travel", ErrInvalidRequest)
	}
	m := o.Model()
	cmds := []script.Command{script.SetPhase(script.PhaseCalibrate)}
	cmds = append(cmds, probePair(m, axis[0], r.Travel)...)

	calc := computeInto(script.CalcValue, r.Var)
	calc.Axis = axis[0]
	calc.Travel = r.Travel
	cmds = append(cmds, calc)
	return o.startCalibration(cmds)
}

// probeCount is the number of recorded probes each computation expects.
var probeCount = map[script.Calc]int{
	script.CalcAnchor1:      2,
	script.CalcAnchor2:      2,
	script.CalcRotaryCenter: 4,
	script.CalcValue:        1,
}

// compute combines the recorded probes into a calibration result.
func (o *Orchestrator) compute(c script.Command) error {
	m := o.Model()
	want, ok := probeCount[c.Calc]
	if c.Calc == script.CalcRotaryHeight {
		want, ok = len(o.probes), len(o.probes) == 2 || len(o.probes) == 4
	}
	if !ok || len(o.probes) != want {
		return o.raise(halt.CalibrateFail, fmt.Sprintf("%s: expected %d probe results, got %d", c.Calc, want, len(o.probes)))
	}
	p := o.probes
	tip := m.TipDiameter / 2

	var vals, prev []float64
	var key string
	switch c.Calc {
	case script.CalcAnchor1, script.CalcAnchor2:
		face := coord.Point{X: p[0].X + tip, Y: p[1].Y + tip}
		name, old := "anchor1", m.Anchor1
		if c.Calc == script.CalcAnchor2 {
			face = face.Sub(m.Anchor1)
			name, old = "anchor2_offset", m.Anchor2Offset
		}
		o.log.Info("anchor calibrated", "anchor", name, "old_x", old.X, "old_y", old.Y, "x", face.X, "y", face.Y)
		o.log.Info("to persist, set coordinate."+name,
			"x", fmt.Sprintf("%.3f", face.X), "y", fmt.Sprintf("%.3f", face.Y))
		vals = []float64{face.X, face.Y}
		prev = []float64{old.X, old.Y}
		key = "coordinate." + name

	case script.CalcRotaryCenter:
		x1, _ := rotaryStations(m)
		mid1 := p[0].Midpoint(p[1])
		mid2 := p[2].Midpoint(p[3])
		angle := mid1.AngleXY(mid2)
		head := mid1.Sub(coord.Point{X: x1 - m.RotaryCenter().X}.RotateXY(angle))
		off := head.Sub(m.Anchor1)
		o.log.Info("rotary center calibrated",
			"old_x", m.Rotation.X, "old_y", m.Rotation.Y, "old_angle", m.RotationAngle,
			"x", off.X, "y", off.Y, "angle", angle)
		o.log.Info("to persist, set coordinate.rotation_offset and coordinate.rotation_angle",
			"x", fmt.Sprintf("%.3f", off.X), "y", fmt.Sprintf("%.3f", off.Y), "angle", fmt.Sprintf("%.3f", angle))
		vals = []float64{off.X, off.Y, angle}
		prev = []float64{m.Rotation.X, m.Rotation.Y, m.RotationAngle}
		key = "coordinate.rotation_offset,coordinate.rotation_angle"

	case script.CalcRotaryHeight:
		// opposite sides cancel any runout
		n := len(p) / 2
		var sum float64
		for i := 0; i < n; i++ {
			sum += (p[i].Z + p[i+n].Z) / 2
		}
		h := sum / float64(n)
		o.log.Info("rotary height measured", "old_z", m.Rotation.Z, "surface_z", h)
		// TODO: persist as coordinate.rotation_offset.z once the anchor surface height is configurable
		vals = []float64{h}
		prev = []float64{m.Rotation.Z}

	case script.CalcValue:
		v := axisValue(p[0], c.Axis)
		if c.Axis != 'Z' {
			v += math.Copysign(tip, c.Travel)
		}
		o.log.Info("value calibrated", "axis", string(c.Axis), "value", v)
		vals = []float64{v}

	default:
		return fmt.Errorf("unknown calculation %s", c.Calc)
	}

	if o.vars != nil && c.Var != 0 {
		for i, v := range vals {
			o.vars.SetVariable(c.Var+i, v)
		}
	}
	o.probes = nil
	o.result = &Result{Calc: c.Calc.String(), Values: vals, Previous: prev, ConfigKey: key, At: o.now()}
	o.metrics.calibrated(c.Calc)
	return nil
}

func axisValue(p coord.Point, axis byte) float64 {
	switch axis {
	case 'X':
		return p.X
	case 'Y':
		return p.Y
	}
	return p.Z
}

func (o *Orchestrator) startBreakCheck(_ context.Context, r BreakCheck) error {
	if r.Tolerance < minBreakTolerance {
		return fmt.Errorf("%w: %g is below %g", ErrToleranceTooSmall, r.Tolerance, minBreakTolerance)
	}
	if err := o.ready(); err != nil {
		return err
	}
	rec := o.offsets.Record()
	if !calibratable(rec.ActiveTool) {
		return ErrNoTool
	}

	o.breakTol = r.Tolerance
	o.breakPrev = rec.CurrentMZ
	o.begin(StateAutomation, []script.Command{
		calibrateCmd(rec.ActiveTool, true),
		script.Internal(script.OpBreakCheck),
	})
	return nil
}

// breakCheck compares the fresh tool length with the one measured
// before the check started.
func (o *Orchestrator) breakCheck() error {
	cur := o.offsets.Record().CurrentMZ
	diff := math.Abs(cur - o.breakPrev)
	o.log.Info("break check", "prev", o.breakPrev, "cur", cur, "diff", diff, "tolerance", o.breakTol)
	if diff > o.breakTol {
		return o.raise(halt.ToolBreak, fmt.Sprintf("tool length changed by %.3fmm, tool may be broken", diff))
	}
	return nil
}
