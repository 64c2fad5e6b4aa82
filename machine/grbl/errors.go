package grbl

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/mastercactapus/gatc/halt"
)

// Error is a line rejected by the controller.
type Error struct {
	Code int
	Line string
}

func (e *Error) Error() string {
	return fmt.Sprintf("grbl error %d (%s): %s", e.Code, e.Description(), strings.TrimSpace(e.Line))
}

// Description returns the controller's meaning of the code.
func (e *Error) Description() string { return describe(errorCodes, e.Code) }

// Alarm is an alarm state reported by the controller. Motion is locked
// until it is cleared.
type Alarm struct {
	Code int
}

func (a Alarm) Error() string { return fmt.Sprintf("grbl alarm %d (%s)", a.Code, a.Description()) }

// Description returns the controller's meaning of the code.
func (a Alarm) Description() string { return describe(alarmCodes, a.Code) }

// ProbeFailed reports whether the alarm came from a probe cycle.
func (a Alarm) ProbeFailed() bool { return a.Code == 4 || a.Code == 5 }

// HaltReason maps a controller fault onto the machine-wide halt reason.
func HaltReason(err error) halt.Reason {
	var a Alarm
	if !errors.As(err, &a) {
		return halt.ControllerError
	}
	switch {
	case a.ProbeFailed():
		return halt.ProbeFail
	case a.Code == 2:
		return halt.SoftLimit
	case a.Code >= 6 && a.Code <= 9:
		return halt.HomeFail
	}
	return halt.ControllerAlarm
}

// faultHook delivers controller faults that no writer is waiting for.
type faultHook struct {
	fn atomic.Pointer[func(error)]
}

// OnFault registers fn to be called with every Alarm, and with every
// *Error the server acknowledged on its own. fn runs on the reading
// goroutine and must not block.
func (h *faultHook) OnFault(fn func(error)) { h.fn.Store(&fn) }

func (h *faultHook) fault(err error) {
	if fn := h.fn.Load(); fn != nil {
		(*fn)(err)
	}
}

// parseCode reads the numeric code of a Grbl 1.1 response. Older
// firmware sends text instead and yields -1.
func parseCode(b []byte) int {
	n, err := strconv.Atoi(string(bytes.TrimSpace(b)))
	if err != nil {
		return -1
	}
	return n
}

func describe(codes map[int]string, code int) string {
	if s, ok := codes[code]; ok {
		return s
	}
	return "unknown"
}

var errorCodes = map[int]string{
	1:  "expected command letter",
	2:  "bad number format",
	3:  "invalid statement",
	4:  "negative value",
	5:  "homing not enabled",
	6:  "step pulse too short",
	7:  "settings read failed",
	8:  "not idle",
	9:  "locked by alarm or jog",
	10: "soft limits need homing",
	11: "line overflow",
	12: "step rate too high",
	13: "safety door open",
	14: "startup line too long",
	15: "jog travel exceeded",
	16: "invalid jog command",
	17: "laser mode needs pwm",
	20: "unsupported command",
	21: "modal group violation",
	22: "undefined feed rate",
	23: "value is not an integer",
	24: "axis command conflict",
	25: "word repeated",
	26: "no axis words",
	27: "invalid line number",
	28: "value word missing",
	29: "unsupported coordinate system",
	30: "invalid motion mode for G53",
	31: "unexpected axis words",
	32: "no axis words in plane",
	33: "invalid target",
	34: "arc radius error",
	35: "no offsets in plane",
	36: "unused words",
	37: "tool length offset axis error",
	38: "invalid tool number",
}

var alarmCodes = map[int]string{
	1: "hard limit",
	2: "soft limit",
	3: "reset during motion",
	4: "probe already triggered",
	5: "probe made no contact",
	6: "homing reset",
	7: "homing door open",
	8: "homing pull-off failed",
	9: "homing switch not found",
}
