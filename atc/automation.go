package atc

import (
	"context"
	"fmt"

	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/machine"
	"github.com/mastercactapus/gatc/meshlevel"
	"github.com/mastercactapus/gatc/script"
	"github.com/mastercactapus/gatc/toolrack"
)

const (
	// levelOvertravel is how far below the start height a leveling probe
	// may travel.
	levelOvertravel = 5

	cornerTravel  = 35
	cornerBackoff = 5
	cornerLift    = 15
)

func workMove(axes ...gcode.Word) script.Command {
	return script.Move(append([]gcode.Word{gcode.G(90), gcode.G(0)}, axes...)...)
}

func workFeed(feed float64, axes ...gcode.Word) script.Command {
	b := append([]gcode.Word{gcode.G(90), gcode.G(1)}, axes...)
	return script.Move(append(b, gcode.F(feed))...)
}

func relMove(axes ...gcode.Word) script.Command {
	return script.Move(append([]gcode.Word{gcode.G(91), gcode.G(0)}, axes...)...)
}

func setWorkOrigin(axes ...gcode.Word) script.Command {
	return script.Move(append([]gcode.Word{gcode.G(10), gcode.Axis('L', 20), gcode.Axis('P', 0)}, axes...)...)
}

func (o *Orchestrator) startAutomation(ctx context.Context, r Automation) error {
	if err := o.ready(); err != nil {
		return err
	}
	if o.laserMode() {
		return o.raise(halt.LaserMode, "can not run automation in laser mode")
	}
	m := o.Model()

	var cmds []script.Command
	if r.Margin || r.ZProbe || r.Level {
		if active := o.offsets.ActiveTool(); active != ToolProbe {
			o.log.Info("change to probe tool first", "tool", active)
			_, change := planChange(m, active, ToolProbe)
			cmds = append(cmds, change...)
		}
	}
	if r.Margin {
		o.log.Info("auto scan margin", "x", r.X, "y", r.Y, "xmax", r.MarginX, "ymax", r.MarginY)
		cmds = append(cmds, marginScript(m, r.X, r.Y, r.MarginX, r.MarginY)...)
	}
	if r.ZProbe {
		if r.Rotary {
			o.log.Info("auto z probe on rotary axis")
			cmds = append(cmds, rotaryZProbeScript(m)...)
		} else {
			o.log.Info("auto z probe", "offset_x", r.OffsetX, "offset_y", r.OffsetY)
			cmds = append(cmds, zprobeScript(m, r.X+r.OffsetX, r.Y+r.OffsetY)...)
		}
	}
	if r.Level {
		o.log.Info("auto leveling", "grid_x", r.GridX, "grid_y", r.GridY, "height", r.Height)
		cmds = append(cmds, levelScript(m, r)...)
	}
	if r.Origin {
		cmds = append(cmds, originScript(m, r.X, r.Y)...)
	}
	if len(cmds) == 0 {
		return fmt.Errorf("%w: automation has nothing to do", ErrInvalidRequest)
	}

	o.begin(StateAutomation, cmds)
	return nil
}

// marginScript traces the job bounds with the probe laser on.
func marginScript(m *toolrack.Model, x, y, xMax, yMax float64) []script.Command {
	return []script.Command{
		script.SetPhase(script.PhaseMargin),
		script.ProbeLaser(true),
		script.MachineMove(gcode.Z(m.Clearance.Z)),
		workMove(gcode.X(x), gcode.Y(y)),
		workFeed(m.MarginRate, gcode.X(x), gcode.Y(yMax)),
		workFeed(m.MarginRate, gcode.X(xMax), gcode.Y(yMax)),
		workFeed(m.MarginRate, gcode.X(xMax), gcode.Y(y)),
		workFeed(m.MarginRate, gcode.X(x), gcode.Y(y)),
		script.ProbeLaser(false),
	}
}

func zprobeTail(m *toolrack.Model, startZ, workZ float64) []script.Command {
	return []script.Command{
		script.Probe('Z', m.Probe.Z-startZ, m.ProbeFastRate).WithRetract(m.ProbeRetract),
		script.Probe('Z', -(m.ProbeRetract + 1), m.ProbeSlowRate),
		setWorkOrigin(gcode.Z(workZ)),
		relMove(gcode.Z(m.ProbeRetract)),
		script.Move(gcode.G(90)),
	}
}

// zprobeScript sets work Z on the stock at work position x, y.
func zprobeScript(m *toolrack.Model, x, y float64) []script.Command {
	cmds := []script.Command{
		script.SetPhase(script.PhaseZProbe),
		script.MachineMove(gcode.Z(m.Clearance.Z)),
		workMove(gcode.X(x), gcode.Y(y)),
	}
	return append(cmds, zprobeTail(m, m.Clearance.Z, m.ProbeHeight)...)
}

// rotaryZProbeScript sets work Z on the rotary axis centerline.
func rotaryZProbeScript(m *toolrack.Model) []script.Command {
	c := m.RotaryCenter()
	cmds := []script.Command{
		script.SetPhase(script.PhaseZProbe),
		script.MachineMove(gcode.Z(m.Clearance.Z)),
		script.MachineMove(gcode.X(c.X-3), gcode.Y(c.Y)),
	}
	return append(cmds, zprobeTail(m, m.Clearance.Z, m.Rotation.Z)...)
}

func (o *Orchestrator) startXYZProbe(ctx context.Context, r XYZProbe) error {
	if err := o.ready(); err != nil {
		return err
	}
	o.begin(StateAutomation, xyzProbeScript(o.Model(), r.Diameter, r.Height))
	return nil
}

// xyzProbeScript finds the front left corner of the stock from above it
// with a tool of diameter d, the probe plate being h thick.
func xyzProbeScript(m *toolrack.Model, d, h float64) []script.Command {
	r := d / 2
	return []script.Command{
		script.SetPhase(script.PhaseZProbe),
		script.Probe('Z', -cornerTravel, m.ProbeSlowRate),
		setWorkOrigin(gcode.Z(h)),
		relMove(gcode.Z(m.ProbeRetract)),
		script.Probe('X', -cornerTravel, m.ProbeSlowRate),
		setWorkOrigin(gcode.X(r)),
		relMove(gcode.X(cornerBackoff)),
		script.Probe('Y', -cornerTravel, m.ProbeSlowRate),
		setWorkOrigin(gcode.Y(r)),
		relMove(gcode.Y(cornerBackoff)),
		relMove(gcode.Z(cornerLift)),
		relMove(gcode.X(-cornerBackoff-r), gcode.Y(-cornerBackoff-r)),
		script.Move(gcode.G(90)),
	}
}

// levelScript probes the leveling grid. Points are relative to the
// work position r.X, r.Y.
func levelScript(m *toolrack.Model, r Automation) []script.Command {
	cmds := []script.Command{
		script.SetPhase(script.PhaseAutolevel),
		workMove(gcode.X(r.X), gcode.Y(r.Y)),
		script.Internal(script.OpBeginMesh),
	}
	origin := coord.Point{X: r.X, Y: r.Y, Z: r.Height}
	for _, p := range machine.GridPoints(origin, r.SizeX, r.SizeY, r.GridX, r.GridY) {
		cmds = append(cmds,
			workMove(gcode.Z(r.Height)),
			workMove(gcode.X(p.X), gcode.Y(p.Y)),
			script.Probe('Z', -(r.Height+levelOvertravel), m.ProbeSlowRate).Recorded(),
		)
	}
	return append(cmds,
		script.Internal(script.OpCommitMesh),
		workMove(gcode.Z(r.Height)),
	)
}

// originScript returns to the job origin above the work.
func originScript(m *toolrack.Model, x, y float64) []script.Command {
	return []script.Command{
		script.MachineMove(gcode.Z(m.Clearance.Z)),
		workMove(gcode.X(x), gcode.Y(y)),
	}
}

// commitMesh builds the leveling mesh from the recorded probes in work
// coordinates.
func (o *Orchestrator) commitMesh() error {
	wco := o.motion.WorkOffset()
	pts := make([]coord.Point, 0, len(o.probes))
	for _, p := range o.probes {
		pts = append(pts, p.Sub(wco))
	}
	o.probes = nil

	mesh, err := meshlevel.FromProbes(pts)
	if err != nil {
		return o.raise(halt.ProbeFail, fmt.Sprintf("build leveling mesh: %v", err))
	}
	if o.mesh != nil {
		o.mesh.SetMesh(mesh)
	}
	o.log.Info("leveling mesh", "points", len(pts), "triangles", mesh.Triangles())
	return nil
}
