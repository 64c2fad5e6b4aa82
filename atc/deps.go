package atc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/machine"
	"github.com/mastercactapus/gatc/meshlevel"
	"github.com/mastercactapus/gatc/pubdata"
	"github.com/mastercactapus/gatc/sensor"
	"github.com/mastercactapus/gatc/toolstate"
)

var (
	ErrBusy              = errors.New("a tool change is already in progress")
	ErrNotHomed          = errors.New("machine is not homed")
	ErrLaserMode         = errors.New("can not change tools in laser mode")
	ErrToleranceTooSmall = errors.New("break check tolerance too small")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotRequest        = errors.New("not a tool changer command")
	ErrNoTool            = errors.New("no active tool")
	ErrNotWaiting        = errors.New("not waiting for a manual tool change")
	ErrHalted            = machine.ErrHalted
)

// Motion queries and moves the machine outside of the command pipeline.
type Motion interface {
	MachinePosition() coord.Point
	WorkOffset() coord.Point
	AllHomed() bool

	PushState()
	PopState(ctx context.Context) error
	DiscardState()

	// DeltaMove moves one axis relative to the current position and
	// returns once motion has stopped.
	DeltaMove(ctx context.Context, axis byte, dist, feed float64) error

	// SyncPosition refreshes the reported position after a move that
	// may have been cut short.
	SyncPosition(ctx context.Context) error

	ResetProbes()
	LastProbe() (machine.ProbeResult, bool)
}

// Pipeline is the ordered motion queue.
type Pipeline interface {
	Submit(ctx context.Context, b gcode.Block) error
	WaitForIdle(ctx context.Context) error
}

// Variables receives calibration results for later commands.
type Variables interface {
	SetVariable(n int, val float64)
}

// MeshSink receives the surface mesh measured by auto leveling.
type MeshSink interface {
	SetMesh(m *meshlevel.Mesh)
}

// Deps are the collaborators of an Orchestrator. Variables, Mesh,
// Metrics, Log and Now are optional.
type Deps struct {
	Motion    Motion
	Pipeline  Pipeline
	Bus       *pubdata.Bus
	Halt      *halt.Signal
	Offsets   *toolstate.Offsets
	Sensors   *sensor.Debouncer
	Variables Variables
	Mesh      MeshSink
	Metrics   *Metrics
	Log       *slog.Logger
	Now       func() time.Time
}
