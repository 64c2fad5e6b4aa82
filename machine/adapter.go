package machine

import (
	"io"
	"strings"

	"github.com/mastercactapus/gatc/coord"
)

// An Adapter represents the minimal CNC machine interface.
type Adapter interface {
	Probes() []ProbeResult
	ResetProbes()

	State() chan State
	CurrentState() State

	WriteByte(byte) error
	Write([]byte) (int, error)
	ReadFrom(io.Reader) (int64, error)
}

// State is a controller status report.
type State struct {
	Status string
	MPos   coord.Point
	WCO    coord.Point

	// Pins lists the letters of the asserted input pins.
	Pins string
}

// Pin reports whether the input pin with the given letter is asserted.
func (s State) Pin(letter byte) bool {
	return strings.IndexByte(s.Pins, letter) >= 0
}

// Moving reports whether the controller is executing motion.
func (s State) Moving() bool {
	switch {
	case s.Status == "Run", s.Status == "Jog", strings.HasPrefix(s.Status, "Home"):
		return true
	}
	return false
}

// ProbeResult is the position reported at the end of a probe move.
type ProbeResult struct {
	coord.Point
	Valid bool
}
