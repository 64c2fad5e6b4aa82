package atc

import (
	"context"
	"fmt"

	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/script"
)

// gotoPosition moves to a named position and waits for the move to
// finish. It is not a sequence and leaves the state untouched.
func (o *Orchestrator) gotoPosition(ctx context.Context, r GotoPosition) error {
	if err := o.ready(); err != nil {
		return err
	}
	if r.Target < 0 || r.Target >= gotoTargetCount {
		return fmt.Errorf("%w: goto target %d", ErrInvalidRequest, r.Target)
	}
	m := o.Model()

	var move script.Command
	switch r.Target {
	case GotoClearance, GotoClearance1:
		move = script.MachineMove(gcode.X(m.Clearance.X), gcode.Y(m.Clearance.Y))
	case GotoWorkOrigin:
		move = workMove(gcode.X(0), gcode.Y(0))
	case GotoAnchor1:
		move = script.MachineMove(gcode.X(m.Anchor1.X), gcode.Y(m.Anchor1.Y))
	case GotoAnchor2:
		a := m.Anchor2()
		move = script.MachineMove(gcode.X(a.X), gcode.Y(a.Y))
	case GotoWorkXY, GotoMachineXY:
		if r.X == nil || r.Y == nil {
			return fmt.Errorf("%w: goto target %d needs X and Y", ErrInvalidRequest, r.Target)
		}
		if r.Target == GotoWorkXY {
			move = workMove(gcode.X(*r.X), gcode.Y(*r.Y))
		} else {
			move = script.MachineMove(gcode.X(*r.X), gcode.Y(*r.Y))
		}
	}
	if r.A != nil && m.Caps.Rotary {
		move.Block = append(move.Block, gcode.A(*r.A))
	}
	if r.B != nil {
		o.log.Debug("goto ignores B", "b", *r.B)
	}

	o.motion.PushState()
	err := o.pipe.Submit(ctx, script.MachineMove(gcode.Z(m.Clearance.Z)).Block)
	if err == nil {
		err = o.pipe.Submit(ctx, move.Block)
	}
	if err == nil {
		err = o.waitForIdle(ctx)
	}
	if err != nil {
		o.motion.DiscardState()
		return fmt.Errorf("goto %d: %w", r.Target, err)
	}
	return o.motion.PopState(ctx)
}
