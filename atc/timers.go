package atc

import (
	"context"
	"errors"
	"time"

	"github.com/mastercactapus/gatc/machine"
)

const (
	beeperSwitch     = "beeper"
	probeLaserSwitch = "probe_laser"

	// laserKeepAlive is how many keep-alive periods the probe laser stays
	// on without being asked again.
	laserKeepAlive = 120
)

func (o *Orchestrator) probeLaser(on bool) {
	if on {
		o.laser.Set(laserKeepAlive)
	} else {
		o.laser.Set(0)
	}
	if err := o.setSwitch(probeLaserSwitch, on); err != nil && !errors.Is(err, machine.ErrUnknownSwitch) {
		o.log.Error("probe laser", "on", on, "err", err)
	}
}

// beep plays p on the buzzer. Each beep is an on and an off period.
func (o *Orchestrator) beep(p BeepPattern) {
	if p <= 0 {
		return
	}
	o.beeps.Set(int(p) * 2)
}

// keepLaserAlive re-asserts the probe laser every period until its
// countdown runs out, then switches it off.
func (o *Orchestrator) keepLaserAlive(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n, ok := o.laser.Tick()
		if !ok {
			continue
		}
		err := o.setSwitch(probeLaserSwitch, n > 1)
		if err != nil && !errors.Is(err, machine.ErrUnknownSwitch) {
			o.log.Error("probe laser keep-alive", "err", err)
		}
	}
}

func (o *Orchestrator) playBeeps(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n, ok := o.beeps.Tick()
		if !ok {
			continue
		}
		err := o.setSwitch(beeperSwitch, n%2 == 0)
		if err != nil && !errors.Is(err, machine.ErrUnknownSwitch) {
			o.log.Error("beeper", "err", err)
		}
	}
}
