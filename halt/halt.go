// Package halt implements the machine-wide halt signal.
package halt

import (
	"slices"
	"strconv"
	"sync"
)

// Reason is the code carried by a halt.
type Reason int

const (
	None              Reason = 0
	Manual            Reason = 1
	HomeFail          Reason = 2
	ProbeFail         Reason = 3
	CalibrateFail     Reason = 4
	ATCHomeFail       Reason = 5
	ATCToolInvalid    Reason = 6
	ATCNoTool         Reason = 7
	ATCHasTool        Reason = 8
	SpindleOverheated Reason = 9
	SoftLimit         Reason = 10
	CoverOpen         Reason = 11
	ProbeInvalid      Reason = 12
	EStop             Reason = 13
	SpindleRunning    Reason = 14
	LaserMode         Reason = 15
	ToolBreak         Reason = 16
	ControllerError   Reason = 17
	ControllerAlarm   Reason = 18
)

var reasonNames = map[Reason]string{
	None:              "none",
	Manual:            "manual",
	HomeFail:          "home_fail",
	ProbeFail:         "probe_fail",
	CalibrateFail:     "calibrate_fail",
	ATCHomeFail:       "atc_home_fail",
	ATCToolInvalid:    "atc_tool_invalid",
	ATCNoTool:         "atc_no_tool",
	ATCHasTool:        "atc_has_tool",
	SpindleOverheated: "spindle_overheated",
	SoftLimit:         "soft_limit",
	CoverOpen:         "cover_open",
	ProbeInvalid:      "probe_invalid",
	EStop:             "estop",
	SpindleRunning:    "spindle_running",
	LaserMode:         "laser_mode",
	ToolBreak:         "tool_break",
	ControllerError:   "controller_error",
	ControllerAlarm:   "controller_alarm",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "reason(" + strconv.Itoa(int(r)) + ")"
}

// Event describes a raised halt.
type Event struct {
	Reason  Reason
	Message string
}

// Signal is the halt flag shared by every component. The first Raise wins;
// later raises are ignored until Clear.
type Signal struct {
	mx     sync.Mutex
	ev     *Event
	subs   []func(Event)
	clears []func()
}

// Raise halts the machine and calls every subscriber synchronously. It
// reports whether this call set the halt.
func (s *Signal) Raise(r Reason, msg string) bool {
	s.mx.Lock()
	if s.ev != nil {
		s.mx.Unlock()
		return false
	}
	ev := Event{Reason: r, Message: msg}
	s.ev = &ev
	subs := slices.Clone(s.subs)
	s.mx.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
	return true
}

// Halted reports whether a halt is active.
func (s *Signal) Halted() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.ev != nil
}

// Reason returns the active halt reason, or None.
func (s *Signal) Reason() Reason {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.ev == nil {
		return None
	}
	return s.ev.Reason
}

// Event returns the active halt, if any.
func (s *Signal) Event() (Event, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.ev == nil {
		return Event{}, false
	}
	return *s.ev, true
}

// Clear releases the halt. It is always an explicit operator action.
func (s *Signal) Clear() {
	s.mx.Lock()
	wasHalted := s.ev != nil
	s.ev = nil
	fns := slices.Clone(s.clears)
	s.mx.Unlock()

	if !wasHalted {
		return
	}
	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers fn to be called on every halt. fn runs on the
// goroutine that raised the halt and must not block.
func (s *Signal) Subscribe(fn func(Event)) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.subs = append(s.subs, fn)
}

// OnClear registers fn to be called when a halt is cleared.
func (s *Signal) OnClear(fn func()) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.clears = append(s.clears, fn)
}
