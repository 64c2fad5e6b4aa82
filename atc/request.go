package atc

import (
	"fmt"
	"math"
	"slices"

	"github.com/mastercactapus/gatc/gcode"
	"github.com/mitchellh/mapstructure"
)

// Request is a command handled by the orchestrator. The set of
// implementations is closed.
type Request interface {
	Kind() string
	isRequest()
}

// ChangeTool changes the active tool to Tool. -1 empties the spindle.
type ChangeTool struct {
	Tool int `json:"tool"`
}

type HomeClamp struct{}
type ClampTool struct{}
type LoosenTool struct{}

// Calibrate measures the length of the active tool.
type Calibrate struct{}

// CheckTool verifies the presence detector sees a tool, or none when
// Present is false.
type CheckTool struct {
	Present bool `json:"present"`
}

// CheckProbe verifies the wireless probe triggered recently.
type CheckProbe struct{}

// SetToolOffset applies the last probe result as the current tool length.
type SetToolOffset struct{}

// SetActiveTool records Tool as held by the spindle without moving.
type SetActiveTool struct {
	Tool int `json:"tool"`
}

// SetProbeOffset shifts the tool setter position until the next tool is set.
type SetProbeOffset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// SetReference makes the current tool length the reference.
type SetReference struct{}

type ProbeLaser struct {
	On bool `json:"on"`
}

// Automation runs the requested probing steps relative to the job
// origin X, Y.
type Automation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Margin traces the job bounds up to MarginX, MarginY.
	Margin  bool    `json:"margin"`
	MarginX float64 `json:"margin_x"`
	MarginY float64 `json:"margin_y"`

	// ZProbe sets work Z at X+OffsetX, Y+OffsetY, or on the rotary
	// axis when Rotary is set.
	ZProbe  bool    `json:"zprobe"`
	Rotary  bool    `json:"rotary"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`

	// Level probes a GridX by GridY grid covering SizeX by SizeY from
	// Height above the work.
	Level  bool    `json:"level"`
	SizeX  float64 `json:"size_x"`
	SizeY  float64 `json:"size_y"`
	GridX  int     `json:"grid_x"`
	GridY  int     `json:"grid_y"`
	Height float64 `json:"height"`

	// Origin returns to X, Y when done.
	Origin bool `json:"origin"`
}

// XYZProbe sets the work origin on the corner of the stock.
type XYZProbe struct {
	Diameter float64 `json:"diameter"`
	Height   float64 `json:"height"`
}

// CalibrateAnchor measures anchor 1 or 2. Results are written to
// interpreter variables starting at Var when non-zero.
type CalibrateAnchor struct {
	Anchor int `json:"anchor"`
	Var    int `json:"var"`
}

type CalibrateRotaryCenter struct {
	Var int `json:"var"`
}

// CalibrateRotaryHeight probes the rotary axis at 2 or 4 angles.
type CalibrateRotaryHeight struct {
	Points int `json:"points"`
	Var    int `json:"var"`
}

// CalibrateValue probes from the current position along Axis by Travel.
type CalibrateValue struct {
	Axis   string  `json:"axis"`
	Travel float64 `json:"travel"`
	Var    int     `json:"var"`
}

// BreakCheck re-measures the active tool and halts if its length
// changed by more than Tolerance.
type BreakCheck struct {
	Tolerance float64 `json:"tolerance"`
}

// Goto targets.
const (
	GotoClearance   = 0
	GotoClearance1  = 1
	GotoWorkOrigin  = 2
	GotoAnchor1     = 3
	GotoAnchor2     = 4
	GotoWorkXY      = 5
	GotoMachineXY   = 6
	gotoTargetCount = 7
)

// GotoPosition moves to a named position. B is accepted and ignored.
type GotoPosition struct {
	Target int      `json:"target"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	A      *float64 `json:"a,omitempty"`
	B      *float64 `json:"b,omitempty"`
}

type Beep struct {
	Pattern BeepPattern `json:"pattern"`
}

// Resume continues after a manual tool change.
type Resume struct{}

// Abort cancels the running sequence by halting the machine.
type Abort struct{}

type ShowTools struct{}
type ShowState struct{}

func (ChangeTool) Kind() string            { return "change_tool" }
func (HomeClamp) Kind() string             { return "home_clamp" }
func (ClampTool) Kind() string             { return "clamp_tool" }
func (LoosenTool) Kind() string            { return "loosen_tool" }
func (Calibrate) Kind() string             { return "calibrate" }
func (CheckTool) Kind() string             { return "check_tool" }
func (CheckProbe) Kind() string            { return "check_probe" }
func (SetToolOffset) Kind() string         { return "set_tool_offset" }
func (SetActiveTool) Kind() string         { return "set_active_tool" }
func (SetProbeOffset) Kind() string        { return "set_probe_offset" }
func (SetReference) Kind() string          { return "set_reference" }
func (ProbeLaser) Kind() string            { return "probe_laser" }
func (Automation) Kind() string            { return "automation" }
func (XYZProbe) Kind() string              { return "xyz_probe" }
func (CalibrateAnchor) Kind() string       { return "calibrate_anchor" }
func (CalibrateRotaryCenter) Kind() string { return "calibrate_rotary_center" }
func (CalibrateRotaryHeight) Kind() string { return "calibrate_rotary_height" }
func (CalibrateValue) Kind() string        { return "calibrate_value" }
func (BreakCheck) Kind() string            { return "break_check" }
func (GotoPosition) Kind() string          { return "goto" }
func (Beep) Kind() string                  { return "beep" }
func (Resume) Kind() string                { return "resume" }
func (Abort) Kind() string                 { return "abort" }
func (ShowTools) Kind() string             { return "show_tools" }
func (ShowState) Kind() string             { return "show_state" }

func (ChangeTool) isRequest()            {}
func (HomeClamp) isRequest()             {}
func (ClampTool) isRequest()             {}
func (LoosenTool) isRequest()            {}
func (Calibrate) isRequest()             {}
func (CheckTool) isRequest()             {}
func (CheckProbe) isRequest()            {}
func (SetToolOffset) isRequest()         {}
func (SetActiveTool) isRequest()         {}
func (SetProbeOffset) isRequest()        {}
func (SetReference) isRequest()          {}
func (ProbeLaser) isRequest()            {}
func (Automation) isRequest()            {}
func (XYZProbe) isRequest()              {}
func (CalibrateAnchor) isRequest()       {}
func (CalibrateRotaryCenter) isRequest() {}
func (CalibrateRotaryHeight) isRequest() {}
func (CalibrateValue) isRequest()        {}
func (BreakCheck) isRequest()            {}
func (GotoPosition) isRequest()          {}
func (Beep) isRequest()                  {}
func (Resume) isRequest()                {}
func (Abort) isRequest()                 {}
func (ShowTools) isRequest()             {}
func (ShowState) isRequest()             {}

const (
	defaultXYZDiameter = 3.175
	defaultXYZHeight   = 9.0
)

func invalid(b gcode.Block, why string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidRequest, b.String(), why)
}

func optArg(b gcode.Block, w byte) *float64 {
	ok, v := b.Arg(w)
	if !ok {
		return nil
	}
	return &v
}

func argOr(b gcode.Block, w byte, def float64) float64 {
	if ok, v := b.Arg(w); ok {
		return v
	}
	return def
}

// ParseRequest decodes a tool changer command line. Blocks that are not
// changer commands return ErrNotRequest.
func ParseRequest(b gcode.Block) (Request, error) {
	m, ok := b.Code('M')
	if !ok {
		if g, ok := b.Code('G'); ok && g.Arg == 28 {
			return GotoPosition{Target: GotoClearance}, nil
		}
		return nil, ErrNotRequest
	}

	sub := m.Sub()
	switch m.Code() {
	case 6:
		ok, t := b.Arg('T')
		if !ok {
			return nil, ErrNotRequest
		}
		if t != math.Trunc(t) {
			return nil, invalid(b, "tool number must be an integer")
		}
		return ChangeTool{Tool: int(t)}, nil
	case 490:
		switch sub {
		case 0:
			return HomeClamp{}, nil
		case 1:
			return ClampTool{}, nil
		case 2:
			return LoosenTool{}, nil
		}
	case 491:
		switch sub {
		case 0:
			return Calibrate{}, nil
		case 1:
			return BreakCheck{Tolerance: argOr(b, 'R', 0)}, nil
		}
	case 492:
		switch sub {
		case 0, 1:
			return CheckTool{Present: true}, nil
		case 2:
			return CheckTool{Present: false}, nil
		case 3:
			return CheckProbe{}, nil
		}
	case 493:
		switch sub {
		case 0, 1:
			return SetToolOffset{}, nil
		case 2:
			ok, t := b.Arg('T')
			if !ok {
				return nil, invalid(b, "no tool was set")
			}
			if t != math.Trunc(t) {
				return nil, invalid(b, "tool number must be an integer")
			}
			return SetActiveTool{Tool: int(t)}, nil
		case 3:
			return SetProbeOffset{X: argOr(b, 'X', 0), Y: argOr(b, 'Y', 0), Z: argOr(b, 'Z', 0)}, nil
		case 4:
			return SetReference{}, nil
		}
	case 494:
		switch sub {
		case 0, 1:
			return ProbeLaser{On: true}, nil
		case 2:
			return ProbeLaser{On: false}, nil
		}
	case 495:
		if sub == 3 {
			return XYZProbe{
				Diameter: argOr(b, 'D', defaultXYZDiameter),
				Height:   argOr(b, 'H', defaultXYZHeight),
			}, nil
		}
		if sub == 0 {
			return parseAutomation(b)
		}
	case 496:
		return parseGoto(b, sub)
	case 469:
		v := int(argOr(b, 'V', 0))
		switch sub {
		case 1:
			a := int(argOr(b, 'P', 1))
			if a != 1 && a != 2 {
				return nil, invalid(b, "anchor must be 1 or 2")
			}
			return CalibrateAnchor{Anchor: a, Var: v}, nil
		case 2:
			return CalibrateRotaryCenter{Var: v}, nil
		case 3:
			p := int(argOr(b, 'P', 2))
			if p != 2 && p != 4 {
				return nil, invalid(b, "points must be 2 or 4")
			}
			return CalibrateRotaryHeight{Points: p, Var: v}, nil
		case 4:
			for _, w := range b {
				if w.W == 'X' || w.W == 'Y' || w.W == 'Z' {
					return CalibrateValue{Axis: string(w.W), Travel: w.Arg, Var: v}, nil
				}
			}
			return nil, invalid(b, "missing probe axis")
		}
	case 498:
		return ShowState{}, nil
	case 499:
		switch sub {
		case 0, 1:
			return ShowState{}, nil
		case 2:
			return ShowTools{}, nil
		}
	case 300:
		return Beep{Pattern: BeepPattern(argOr(b, 'P', float64(BeepDone)))}, nil
	default:
		return nil, ErrNotRequest
	}

	return nil, invalid(b, "unknown subcode")
}

func parseAutomation(b gcode.Block) (Request, error) {
	if !b.Has('X') || !b.Has('Y') {
		return nil, invalid(b, "missing automation parameter X/Y")
	}
	var r Automation
	_, r.X = b.Arg('X')
	_, r.Y = b.Arg('Y')

	if b.Has('C') && b.Has('D') {
		r.Margin = true
		_, r.MarginX = b.Arg('C')
		_, r.MarginY = b.Arg('D')
	}
	if ok, o := b.Arg('O'); ok {
		r.ZProbe = true
		r.OffsetX = o
		if ok, f := b.Arg('F'); ok {
			r.OffsetY = f
		} else {
			r.Rotary = true
		}
	}
	if b.Has('A') && b.Has('B') && b.Has('I') && b.Has('J') && b.Has('H') {
		r.Level = true
		_, r.SizeX = b.Arg('A')
		_, r.SizeY = b.Arg('B')
		r.GridX = int(argOr(b, 'I', 0))
		r.GridY = int(argOr(b, 'J', 0))
		_, r.Height = b.Arg('H')
	}
	r.Origin = b.Has('P')
	return r, nil
}

func parseGoto(b gcode.Block, target int) (Request, error) {
	r := GotoPosition{
		Target: target,
		X:      optArg(b, 'X'),
		Y:      optArg(b, 'Y'),
		A:      optArg(b, 'A'),
		B:      optArg(b, 'B'),
	}
	if err := r.validate(); err != nil {
		return nil, invalid(b, err.Error())
	}
	return r, nil
}

func (r GotoPosition) validate() error {
	if r.Target < 0 || r.Target >= gotoTargetCount {
		return fmt.Errorf("unknown goto target %d", r.Target)
	}
	for _, v := range []*float64{r.X, r.Y, r.A, r.B} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("position must be finite")
		}
	}
	return nil
}

func decodeAs[T Request]() func(map[string]any) (Request, error) {
	return func(params map[string]any) (Request, error) {
		var r T
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &r,
			TagName:          "json",
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(params); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, r.Kind(), err)
		}
		return r, nil
	}
}

var requestKinds = map[string]func(map[string]any) (Request, error){
	ChangeTool{}.Kind():            decodeAs[ChangeTool](),
	HomeClamp{}.Kind():             decodeAs[HomeClamp](),
	ClampTool{}.Kind():             decodeAs[ClampTool](),
	LoosenTool{}.Kind():            decodeAs[LoosenTool](),
	Calibrate{}.Kind():             decodeAs[Calibrate](),
	CheckTool{}.Kind():             decodeAs[CheckTool](),
	CheckProbe{}.Kind():            decodeAs[CheckProbe](),
	SetToolOffset{}.Kind():         decodeAs[SetToolOffset](),
	SetActiveTool{}.Kind():         decodeAs[SetActiveTool](),
	SetProbeOffset{}.Kind():        decodeAs[SetProbeOffset](),
	SetReference{}.Kind():          decodeAs[SetReference](),
	ProbeLaser{}.Kind():            decodeAs[ProbeLaser](),
	Automation{}.Kind():            decodeAs[Automation](),
	XYZProbe{}.Kind():              decodeAs[XYZProbe](),
	CalibrateAnchor{}.Kind():       decodeAs[CalibrateAnchor](),
	CalibrateRotaryCenter{}.Kind(): decodeAs[CalibrateRotaryCenter](),
	CalibrateRotaryHeight{}.Kind(): decodeAs[CalibrateRotaryHeight](),
	CalibrateValue{}.Kind():        decodeAs[CalibrateValue](),
	BreakCheck{}.Kind():            decodeAs[BreakCheck](),
	GotoPosition{}.Kind():          decodeAs[GotoPosition](),
	Beep{}.Kind():                  decodeAs[Beep](),
	Resume{}.Kind():                decodeAs[Resume](),
	Abort{}.Kind():                 decodeAs[Abort](),
	ShowTools{}.Kind():             decodeAs[ShowTools](),
	ShowState{}.Kind():             decodeAs[ShowState](),
}

// DecodeRequest builds a request of the given kind from loosely typed
// parameters, such as a decoded JSON object.
func DecodeRequest(kind string, params map[string]any) (Request, error) {
	decode, ok := requestKinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
	}
	r, err := decode(params)
	if err != nil {
		return nil, err
	}
	switch r := r.(type) {
	case GotoPosition:
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	case CalibrateValue:
		if r.Axis != "X" && r.Axis != "Y" && r.Axis != "Z" {
			return nil, fmt.Errorf("%w: axis must be X, Y or Z", ErrInvalidRequest)
		}
	}
	return r, nil
}

// Kinds lists the request kinds accepted by DecodeRequest.
func Kinds() []string {
	res := make([]string, 0, len(requestKinds))
	for k := range requestKinds {
		res = append(res, k)
	}
	slices.Sort(res)
	return res
}
