package atc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/halt"
	"github.com/mastercactapus/gatc/pubdata"
	"github.com/mastercactapus/gatc/script"
	"github.com/mastercactapus/gatc/toolstate"
)

const detectorSwitch = "detector"

// clampAxis returns the controller axis letter driving the clamp.
func (o *Orchestrator) clampAxis() byte {
	a := strings.ToUpper(o.Model().Homing.Axis)
	if a == "" {
		return 'C'
	}
	return a[0]
}

// homeClamp drives the clamp to its endstop and backs off, leaving it
// clamped.
func (o *Orchestrator) homeClamp(ctx context.Context) error {
	if err := o.waitForIdle(ctx); err != nil {
		return err
	}
	h := o.Model().Homing
	axis := o.clampAxis()
	o.clamp = Unhomed

	es := o.sensors.Endstop
	es.Arm()
	err := o.motion.DeltaMove(ctx, axis, h.MaxTravel, h.HomingRate*60)
	es.Disarm()
	if err != nil {
		return fmt.Errorf("home clamp: %w", err)
	}
	if !es.Triggered() {
		return o.raise(halt.ATCHomeFail, fmt.Sprintf("clamp endstop not reached within %gmm", h.MaxTravel))
	}
	if err := o.motion.SyncPosition(ctx); err != nil {
		return fmt.Errorf("home clamp: %w", err)
	}
	if err := o.motion.DeltaMove(ctx, axis, -h.Retract, h.HomingRate*60); err != nil {
		return fmt.Errorf("home clamp: retract: %w", err)
	}

	o.clamp = Clamped
	o.log.Info("atc homed")
	return nil
}

func (o *Orchestrator) clampTool(ctx context.Context) error {
	switch o.clamp {
	case Clamped:
		o.log.Info("already clamped")
		return nil
	case Unhomed:
		return o.homeClamp(ctx)
	}

	h := o.Model().Homing
	if err := o.motion.DeltaMove(ctx, o.clampAxis(), h.ActionDist, h.HomingRate*60); err != nil {
		return fmt.Errorf("clamp: %w", err)
	}
	o.clamp = Clamped
	return nil
}

func (o *Orchestrator) loosenTool(ctx context.Context) error {
	if o.clamp == Loosed {
		o.log.Info("already loosed")
		return nil
	}
	if o.clamp == Unhomed {
		if err := o.homeClamp(ctx); err != nil {
			return err
		}
	}

	h := o.Model().Homing
	if err := o.motion.DeltaMove(ctx, o.clampAxis(), -h.ActionDist, h.ActionRate*60); err != nil {
		return fmt.Errorf("loosen: %w", err)
	}
	o.clamp = Loosed
	return nil
}

// detect sweeps the spindle across the presence detector and reports
// whether it saw a tool.
func (o *Orchestrator) detect(ctx context.Context) (bool, error) {
	if err := o.waitForIdle(ctx); err != nil {
		return false, err
	}
	d := o.Model().Detector
	if err := o.setSwitch(detectorSwitch, true); err != nil {
		return false, fmt.Errorf("detector on: %w", err)
	}
	defer func() {
		if err := o.setSwitch(detectorSwitch, false); err != nil {
			o.log.Error("detector off", "err", err)
		}
	}()

	in := o.sensors.Detector
	in.Arm()
	var err error
	for _, dist := range []float64{d.Travel / 2, -d.Travel, d.Travel / 2} {
		if err = o.motion.DeltaMove(ctx, 'Y', dist, d.Rate*60); err != nil {
			break
		}
	}
	in.Disarm()
	if err != nil {
		return false, fmt.Errorf("detect: %w", err)
	}

	// any of the moves may have been cut short
	if err := o.motion.SyncPosition(ctx); err != nil {
		return false, fmt.Errorf("detect: %w", err)
	}
	return in.Triggered(), nil
}

// checkTool halts unless the detector agrees with present.
func (o *Orchestrator) checkTool(ctx context.Context, present bool) error {
	seen, err := o.detect(ctx)
	if err != nil {
		return err
	}
	switch {
	case present && !seen:
		return o.raise(halt.ATCNoTool, "tool conflict, no tool detected")
	case !present && seen:
		return o.raise(halt.ATCHasTool, "tool conflict, unexpected tool detected")
	}
	return nil
}

// checkProbe halts unless the wireless probe triggered recently.
func (o *Orchestrator) checkProbe(context.Context) error {
	ps, err := pubdata.Lookup[pubdata.ProbeStatus](o.bus, pubdata.GetProbeStatus)
	if err == nil && !ps.LastTriggered.IsZero() && o.now().Sub(ps.LastTriggered) <= o.Model().ProbeWindow {
		return nil
	}
	return o.raise(halt.ProbeInvalid, "wireless probe dead or not set, please charge or set first")
}

// probe runs a probe command and keeps the result for later computation.
func (o *Orchestrator) probe(ctx context.Context, c script.Command) error {
	o.motion.ResetProbes()
	if err := o.pipe.Submit(ctx, c.ProbeBlock()); err != nil {
		return err
	}
	if err := o.pipe.Submit(ctx, gcode.Block{gcode.G(90)}); err != nil {
		return err
	}
	if err := o.waitForIdle(ctx); err != nil {
		return err
	}

	res, ok := o.motion.LastProbe()
	if !ok || !res.Valid {
		return o.raise(halt.ProbeFail, fmt.Sprintf("probe %c did not trigger", c.Axis))
	}
	if c.Record {
		o.probes = append(o.probes, res.Point)
	}
	if c.Retract == 0 {
		return nil
	}

	back := -c.Retract
	if c.Travel < 0 {
		back = c.Retract
	}
	if err := o.pipe.Submit(ctx, gcode.Block{gcode.G(91), gcode.G(0), gcode.Axis(c.Axis, back)}); err != nil {
		return err
	}
	return o.pipe.Submit(ctx, gcode.Block{gcode.G(90)})
}

// saveToolOffset stores the last probed Z as the current tool length
// and applies the resulting offset.
func (o *Orchestrator) saveToolOffset(ctx context.Context) error {
	res, ok := o.motion.LastProbe()
	if !ok || !res.Valid {
		return o.raise(halt.CalibrateFail, "no probe result to calibrate from")
	}

	rec, err := o.offsets.Calibrated(ctx, res.Z)
	if errors.Is(err, toolstate.ErrReferenceReset) {
		return o.raise(halt.Manual, "reference tool length was invalid and has been reset, calibrate the reference tool")
	}
	if err != nil {
		return fmt.Errorf("save tool offset: %w", err)
	}

	o.log.Info("tool offset", "tool", rec.ActiveTool, "cur", rec.CurrentMZ, "ref", rec.ReferenceMZ, "offset", rec.ToolLengthOffset)
	return o.pipe.Submit(ctx, gcode.Block{gcode.G(43.1), gcode.Z(rec.ToolLengthOffset)})
}
