package pubdata

import "time"

var (
	GetSpindleStatus  = NewKey("pwm_spindle_control", "get_spindle_status")
	TurnOffSpindle    = NewKey("pwm_spindle_control", "turn_off_spindle")
	GetLaserStatus    = NewKey("laser", "get_laser_status")
	GetSwitchState    = NewKey("switch", "get_state")
	SetSwitchState    = NewKey("switch", "set_state")
	GetPlayerStatus   = NewKey("player", "is_playing")
	AbortPlayer       = NewKey("player", "abort")
	GetProbeStatus    = NewKey("zprobe", "get_probe_status")
	GetToolStatus     = NewKey("atc_handler", "get_tool_status")
	GetMachineOffsets = NewKey("atc_handler", "get_machine_offsets")
	GetATCPinStatus   = NewKey("atc_handler", "get_atc_pin_status")
	SetRefToolMZ      = NewKey("atc_handler", "set_ref_tool_mz")
	AbortATC          = NewKey("atc_handler", "abort")
)

type SpindleStatus struct {
	Running bool
	RPM     float64
}

type LaserStatus struct {
	Mode bool
	On   bool
}

// SwitchState names a switch and its requested state. Switches are
// output lines such as "detector" and "probe_laser".
type SwitchState struct {
	Name string
	On   bool
}

type PlayerStatus struct {
	Playing bool
	File    string
	Line    int
}

// ProbeStatus reports when the probe input was last seen asserted.
type ProbeStatus struct {
	Triggered     bool
	LastTriggered time.Time
}

type ToolStatus struct {
	ActiveTool       int
	ReferenceMZ      float64
	CurrentMZ        float64
	ToolLengthOffset float64
}

type MachineOffsets struct {
	Anchor1X, Anchor1Y                                float64
	Anchor2OffsetX, Anchor2OffsetY                    float64
	RotationOffsetX, RotationOffsetY, RotationOffsetZ float64
	ToolrackOffsetX, ToolrackOffsetY, ToolrackZ       float64
	ClearanceX, ClearanceY, ClearanceZ                float64
}

type PinStatus struct {
	Endstop  bool
	Detector bool
}
