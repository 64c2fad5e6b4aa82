package atc

import (
	"context"
	"errors"
	"fmt"

	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/pubdata"
)

// RegisterBus publishes the tool state and accepts reference and abort
// requests from other components.
func (o *Orchestrator) RegisterBus(b *pubdata.Bus) {
	b.HandleGet(pubdata.GetToolStatus, func() (any, error) {
		rec := o.offsets.Record()
		if rec.ActiveTool < 0 {
			return nil, ErrNoTool
		}
		return pubdata.ToolStatus{
			ActiveTool:       rec.ActiveTool,
			ReferenceMZ:      rec.ReferenceMZ,
			CurrentMZ:        rec.CurrentMZ,
			ToolLengthOffset: rec.ToolLengthOffset,
		}, nil
	})
	b.HandleGet(pubdata.GetMachineOffsets, pubdata.Getter(func() pubdata.MachineOffsets {
		m := o.Model()
		return pubdata.MachineOffsets{
			Anchor1X:        m.Anchor1.X,
			Anchor1Y:        m.Anchor1.Y,
			Anchor2OffsetX:  m.Anchor2Offset.X,
			Anchor2OffsetY:  m.Anchor2Offset.Y,
			RotationOffsetX: m.Rotation.X,
			RotationOffsetY: m.Rotation.Y,
			RotationOffsetZ: m.Rotation.Z,
			ToolrackOffsetX: m.ToolrackOffset.X,
			ToolrackOffsetY: m.ToolrackOffset.Y,
			ToolrackZ:       m.ToolrackZ,
			ClearanceX:      m.Clearance.X,
			ClearanceY:      m.Clearance.Y,
			ClearanceZ:      m.Clearance.Z,
		}
	}))
	b.HandleGet(pubdata.GetATCPinStatus, pubdata.Getter(func() pubdata.PinStatus {
		return pubdata.PinStatus{
			Endstop:  o.sensors.Endstop.Raw(),
			Detector: o.sensors.Detector.Raw(),
		}
	}))
	b.HandleSet(pubdata.SetRefToolMZ, func(any) error {
		return o.offsets.SetReference(context.Background())
	})
	b.HandleSet(pubdata.AbortATC, func(any) error {
		o.halt.Raise(halt.Manual, "tool change aborted")
		return nil
	})
}

// PlayerHook runs tool changer commands found in a streamed job. The job
// waits until the started sequence is done.
func (o *Orchestrator) PlayerHook(ctx context.Context, b gcode.Block) (bool, error) {
	req, err := ParseRequest(b)
	if err != nil {
		if errors.Is(err, ErrNotRequest) {
			return false, nil
		}
		return true, err
	}
	if err := o.Do(ctx, req); err != nil {
		return true, fmt.Errorf("%s: %w", b, err)
	}
	if err := o.WaitIdle(ctx); err != nil {
		return true, err
	}
	if ev, ok := o.halt.Event(); ok {
		return true, fmt.Errorf("%w: %s: %s", ErrHalted, ev.Reason, ev.Message)
	}
	return true, nil
}
