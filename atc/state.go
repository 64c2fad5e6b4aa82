package atc

import "strconv"

// State is the sequence the orchestrator is running.
type State int

const (
	StateNone State = iota
	StateChange
	StateDrop
	StatePick
	StateCalibrate
	StateAutomation
)

var stateNames = [...]string{"none", "change", "drop", "pick", "calibrate", "automation"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ClampState is the lifecycle of the tool clamp.
type ClampState int

const (
	Unhomed ClampState = iota
	Clamped
	Loosed
)

var clampNames = [...]string{"unhomed", "clamped", "loosed"}

func (c ClampState) String() string {
	if c < 0 || int(c) >= len(clampNames) {
		return "clamp(" + strconv.Itoa(int(c)) + ")"
	}
	return clampNames[c]
}

func (c ClampState) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// BeepPattern is the number of beeps played by the buzzer.
type BeepPattern int

const (
	BeepDone       BeepPattern = 1
	BeepToolChange BeepPattern = 2
	BeepAlarm      BeepPattern = 3
)

const (
	// ToolNone is the active tool when the spindle is empty.
	ToolNone = -1

	// ToolLaser and ToolProbe3D are placeholder ids for accessories that
	// are never length calibrated.
	ToolLaser   = 8888
	ToolProbe3D = 999990

	// ToolProbe is the rack probe.
	ToolProbe = 0
)

// calibratable reports whether a tool length calibration follows
// picking tool n.
func calibratable(n int) bool {
	return n >= 0 && n != ToolLaser && n != ToolProbe3D
}
