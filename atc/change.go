package atc

import (
	"context"
	"fmt"

	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/script"
	"github.com/mastercactapus/gatc/toolrack"
)

// validTool reports whether n may be requested as the active tool.
func validTool(m *toolrack.Model, n int) bool {
	switch {
	case n == ToolNone, n == ToolLaser, n == ToolProbe3D:
		return true
	case n < 0:
		return false
	case n <= m.ManualToolMax:
		return true
	}
	return m.InRack(n)
}

func (o *Orchestrator) changeTool(ctx context.Context, n int) error {
	if err := o.ready(); err != nil {
		return err
	}
	m := o.Model()
	if !validTool(m, n) {
		return o.raise(halt.ATCToolInvalid, fmt.Sprintf("invalid tool T%d, manual tools end at T%d", n, m.ManualToolMax))
	}

	active := o.offsets.ActiveTool()
	if n == active {
		o.log.Info("tool already active", "tool", n)
		return nil
	}
	if o.spindleRunning() {
		return o.raise(halt.SpindleRunning, "can not change tools while the spindle is running")
	}
	if n >= 0 && o.laserMode() {
		return ErrLaserMode
	}

	st, cmds := planChange(m, active, n)
	o.log.Info("changing tool", "from", active, "to", n)
	o.begin(st, cmds)
	return nil
}

// planChange builds the commands that replace tool from with tool to,
// followed by a length calibration when to is calibratable.
func planChange(m *toolrack.Model, from, to int) (State, []script.Command) {
	if !m.Caps.ATC {
		cmds := manualChange(to)
		if calibratable(to) {
			cmds = append(cmds, calibrateCmd(to, true))
		}
		return StateChange, cmds
	}

	st := StateChange
	var cmds []script.Command
	dropped := false
	if from >= 0 {
		if m.InRack(from) {
			cmds = append(cmds, dropScript(m, from)...)
		} else {
			cmds = append(cmds, manualChange(ToolNone)...)
		}
		st = StateDrop
		dropped = true
	}
	if to < 0 {
		return st, cmds
	}

	clearZ := true
	if m.InRack(to) {
		cmds = append(cmds, pickScript(m, to, !dropped)...)
		if st == StateChange {
			st = StatePick
		}
		clearZ = false
	} else {
		cmds = append(cmds, manualChange(to)...)
	}
	if calibratable(to) {
		cmds = append(cmds, calibrateCmd(to, clearZ))
	}
	return st, cmds
}

// manualChange parks the spindle for the operator and records tool n once
// they confirm with Resume.
func manualChange(n int) []script.Command {
	return []script.Command{
		script.Internal(script.OpChangePosition),
		script.Internal(script.OpWaitManual),
		script.SetTool(n),
	}
}

func calibrateCmd(n int, clearZ bool) script.Command {
	return script.Command{Op: script.OpCalibrate, Tool: n, ClearZ: clearZ}
}

// dropScript returns the active tool n to its rack slot.
func dropScript(m *toolrack.Model, n int) []script.Command {
	s, _ := m.Tools.Slot(n)
	return []script.Command{
		script.SetPhase(script.PhaseDrop),
		script.MachineMove(gcode.Z(m.Clearance.Z)),
		script.MachineMove(gcode.X(s.X), gcode.Y(s.Y)),
		// the slot must be empty before anything is put in it
		script.Internal(script.OpCheckToolAbsent),
		script.MachineMove(gcode.X(s.X), gcode.Y(s.Y)),
		script.MachineFeed(m.FastZRate, gcode.Z(s.Z+m.SafeZOffset)),
		script.MachineFeed(m.SlowZRate, gcode.Z(s.Z)),
		script.Internal(script.OpLoosen),
		script.MachineMove(gcode.Z(m.SafeZEmpty)),
		script.SetTool(ToolNone),
		script.Internal(script.OpCheckToolPresent),
	}
}

// pickScript takes tool n from its rack slot. clearZ travels at clearance
// height when the spindle did not just drop a tool.
func pickScript(m *toolrack.Model, n int, clearZ bool) []script.Command {
	s, _ := m.Tools.Slot(n)
	z := m.SafeZEmpty
	if clearZ {
		z = m.Clearance.Z
	}
	return []script.Command{
		script.SetPhase(script.PhasePick),
		script.MachineMove(gcode.Z(z)),
		script.MachineMove(gcode.X(s.X), gcode.Y(s.Y)),
		script.Internal(script.OpCheckToolPresent),
		script.Internal(script.OpLoosen),
		script.MachineMove(gcode.X(s.X), gcode.Y(s.Y)),
		script.MachineFeed(m.FastZRate, gcode.Z(s.Z+m.SafeZOffset)),
		script.MachineFeed(m.SlowZRate, gcode.Z(s.Z)),
		script.Internal(script.OpClamp),
		script.MachineMove(gcode.Z(m.SafeZ)),
		script.Internal(script.OpCheckToolAbsent),
		script.SetTool(n),
	}
}

// calibrateScript measures the length of tool n on the tool setter at p.
// It replaces an OpCalibrate command when that command is reached.
func calibrateScript(m *toolrack.Model, n int, clearZ bool, p coord.Point, laser bool) []script.Command {
	startZ := m.SafeZ
	if clearZ {
		startZ = m.Clearance.Z
	}

	cmds := []script.Command{script.SetPhase(script.PhaseCalibrate)}
	if m.Caps.ATC && laser {
		cmds = append(cmds, script.Internal(script.OpClamp))
	}
	cmds = append(cmds,
		script.MachineMove(gcode.Z(startZ)),
		script.MachineMove(gcode.X(p.X), gcode.Y(p.Y)),
		script.Probe('Z', p.Z-startZ, m.ProbeFastRate).WithRetract(m.ProbeRetract),
		script.Probe('Z', -(m.ProbeRetract+1), m.ProbeSlowRate).Recorded(),
		script.Internal(script.OpSaveToolOffset),
		script.MachineMove(gcode.Z(m.SafeZ)),
	)
	if (n == ToolProbe || n == ToolProbe3D) && m.Caps.WirelessProbe {
		cmds = append(cmds, script.Internal(script.OpCheckProbe))
	}
	return cmds
}

func (o *Orchestrator) startCalibrate(ctx context.Context) error {
	if err := o.ready(); err != nil {
		return err
	}
	n := o.offsets.ActiveTool()
	if n < 0 {
		return ErrNoTool
	}
	o.begin(StateCalibrate, []script.Command{calibrateCmd(n, true)})
	return nil
}

// moveToChangePosition parks the spindle where the operator can reach it.
func (o *Orchestrator) moveToChangePosition(ctx context.Context) error {
	m := o.Model()
	if err := o.pipe.Submit(ctx, script.MachineMove(gcode.Z(m.Clearance.Z)).Block); err != nil {
		return err
	}
	if err := o.pipe.Submit(ctx, script.MachineMove(gcode.X(m.Clearance.X), gcode.Y(m.Clearance.Y)).Block); err != nil {
		return err
	}
	return o.waitForIdle(ctx)
}

// setTool records n as the spindle tool. The one-off probe offset only
// applies to the tool it was set for.
func (o *Orchestrator) setTool(ctx context.Context, n int) error {
	o.oneOff = toolrack.OneOffOffset{}
	if err := o.offsets.SetActiveTool(ctx, n); err != nil {
		return fmt.Errorf("set active tool: %w", err)
	}
	o.log.Info("active tool", "tool", n)
	return nil
}

// Plan returns the commands that change tool from to tool to on m,
// with length calibrations expanded in place.
func Plan(m *toolrack.Model, from, to int) []script.Command {
	_, cmds := planChange(m, from, to)

	var res []script.Command
	for _, c := range cmds {
		if c.Op == script.OpCalibrate {
			res = append(res, calibrateScript(m, c.Tool, c.ClearZ, m.Probe, false)...)
			continue
		}
		res = append(res, c)
	}
	return res
}
