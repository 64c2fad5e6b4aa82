// Package script holds the typed commands that make up a tool change or
// calibration sequence, and the queue they are replayed from.
package script

import (
	"fmt"
	"strconv"

	"github.com/mastercactapus/gatc/gcode"
)

// Op identifies what a Command does.
type Op int

const (
	// OpMotion submits Block to the motion pipeline and returns immediately.
	OpMotion Op = iota
	OpPhase
	OpHomeClamp
	OpClamp
	OpLoosen
	OpCheckToolPresent
	OpCheckToolAbsent
	OpCheckProbe
	OpSaveToolOffset
	OpSetTool
	OpProbeLaser
	OpChangePosition
	OpWaitManual
	OpCalibrate
	OpProbe
	OpCompute
	OpBreakCheck
	OpBeginMesh
	OpCommitMesh
)

var opNames = [...]string{
	OpMotion:           "motion",
	OpPhase:            "phase",
	OpHomeClamp:        "home_clamp",
	OpClamp:            "clamp",
	OpLoosen:           "loosen",
	OpCheckToolPresent: "check_tool_present",
	OpCheckToolAbsent:  "check_tool_absent",
	OpCheckProbe:       "check_probe",
	OpSaveToolOffset:   "save_tool_offset",
	OpSetTool:          "set_tool",
	OpProbeLaser:       "probe_laser",
	OpChangePosition:   "change_position",
	OpWaitManual:       "wait_manual",
	OpCalibrate:        "calibrate",
	OpProbe:            "probe",
	OpCompute:          "compute",
	OpBreakCheck:       "break_check",
	OpBeginMesh:        "begin_mesh",
	OpCommitMesh:       "commit_mesh",
}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return "op(" + strconv.Itoa(int(o)) + ")"
	}
	return opNames[o]
}

// Internal reports whether the op is executed by the orchestrator rather
// than submitted to the pipeline.
func (o Op) Internal() bool { return o != OpMotion }

// Phase is the reported step of a running sequence.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseDrop
	PhasePick
	PhaseCalibrate
	PhaseMargin
	PhaseZProbe
	PhaseAutolevel
	PhaseManual
)

var phaseNames = [...]string{"none", "drop", "pick", "calibrate", "margin", "zprobe", "autolevel", "manual"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
	return phaseNames[p]
}

// Calc selects the computation run by an OpCompute command over the
// probe results recorded so far.
type Calc int

const (
	CalcNone Calc = iota
	CalcAnchor1
	CalcAnchor2
	CalcRotaryCenter
	CalcRotaryHeight
	CalcValue
)

var calcNames = [...]string{"none", "anchor1", "anchor2", "rotary_center", "rotary_height", "value"}

func (c Calc) String() string {
	if c < 0 || int(c) >= len(calcNames) {
		return "calc(" + strconv.Itoa(int(c)) + ")"
	}
	return calcNames[c]
}

// Command is one step of a sequence.
type Command struct {
	Op Op

	// Block is the motion for OpMotion.
	Block gcode.Block

	// Tool is the tool id for OpSetTool and OpCalibrate.
	Tool int

	Phase Phase

	// On is the requested laser state for OpProbeLaser.
	On bool

	// Probe parameters.
	Axis    byte
	Travel  float64
	Feed    float64
	Retract float64
	Record  bool
	Invert  bool

	// Calc, Index and Var parameterize OpCompute. Var is the first
	// interpreter variable that receives the result, 0 for none.
	Calc  Calc
	Index int
	Var   int
	Value float64

	// ClearZ moves to clearance Z instead of the empty-spindle safe Z
	// before an OpCalibrate expansion.
	ClearZ bool
}

// Move returns a motion command.
func Move(words ...gcode.Word) Command {
	return Command{Op: OpMotion, Block: gcode.Block(words)}
}

// MachineMove returns a rapid move in machine coordinates, `G53 G0 ...`.
func MachineMove(axes ...gcode.Word) Command {
	return Move(append([]gcode.Word{gcode.G(53), gcode.G(0)}, axes...)...)
}

// MachineFeed returns a feed move in machine coordinates, `G53 G1 ... F`.
func MachineFeed(feed float64, axes ...gcode.Word) Command {
	b := append([]gcode.Word{gcode.G(53), gcode.G(1)}, axes...)
	return Move(append(b, gcode.F(feed))...)
}

func SetPhase(p Phase) Command        { return Command{Op: OpPhase, Phase: p} }
func SetTool(tool int) Command        { return Command{Op: OpSetTool, Tool: tool} }
func ProbeLaser(on bool) Command      { return Command{Op: OpProbeLaser, On: on} }
func Internal(op Op) Command          { return Command{Op: op} }
func Compute(c Calc, idx int) Command { return Command{Op: OpCompute, Calc: c, Index: idx} }

// Probe returns a probe move along axis. Travel is relative to the
// position at execution time.
func Probe(axis byte, travel, feed float64) Command {
	return Command{Op: OpProbe, Axis: axis, Travel: travel, Feed: feed}
}

// WithRetract returns a copy of c that backs off by dist after triggering.
func (c Command) WithRetract(dist float64) Command {
	c.Retract = dist
	return c
}

// Recorded returns a copy of c whose result is kept for later computation.
func (c Command) Recorded() Command {
	c.Record = true
	return c
}

// ProbeBlock returns the relative move submitted for an OpProbe command.
func (c Command) ProbeBlock() gcode.Block {
	g := 38.2
	if c.Invert {
		g = 38.4
	}
	return gcode.Block{gcode.G(91), gcode.G(g), gcode.Axis(c.Axis, c.Travel), gcode.F(c.Feed)}
}

// String renders the command the way it would appear in a firmware log.
func (c Command) String() string {
	switch c.Op {
	case OpMotion:
		return c.Block.String()
	case OpPhase:
		return fmt.Sprintf("M497.%d", int(c.Phase))
	case OpHomeClamp:
		return "M490"
	case OpClamp:
		return "M490.1"
	case OpLoosen:
		return "M490.2"
	case OpCheckToolPresent:
		return "M492.1"
	case OpCheckToolAbsent:
		return "M492.2"
	case OpCheckProbe:
		return "M492.3"
	case OpSaveToolOffset:
		return "M493.1"
	case OpSetTool:
		return "M493.2T" + strconv.Itoa(c.Tool)
	case OpProbeLaser:
		if c.On {
			return "M494.1"
		}
		return "M494.2"
	case OpCalibrate:
		return "M491"
	case OpBreakCheck:
		return "M491.1"
	case OpProbe:
		return c.ProbeBlock().String()
	case OpCompute:
		return fmt.Sprintf("(compute %s %d)", c.Calc, c.Index)
	}
	return "(" + c.Op.String() + ")"
}
