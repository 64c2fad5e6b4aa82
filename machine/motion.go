package machine

import (
	"context"
	"time"

	"github.com/mastercactapus/gatc/gcode"
)

// DeltaMove jogs axis by dist at feed mm/min and returns once the
// controller stopped, either at the target or because of Stop.
func (m *Machine) DeltaMove(ctx context.Context, axis byte, dist, feed float64) error {
	if m.halt.Halted() {
		return ErrHalted
	}
	b := gcode.Block{gcode.G(91), gcode.G(21), gcode.Axis(axis, dist), gcode.F(feed)}

	m.jogging.Store(true)
	defer m.jogging.Store(false)
	if _, err := m.a.Write([]byte("$J=" + b.String() + "\n")); err != nil {
		return err
	}
	return m.waitStopped(ctx)
}

func (m *Machine) waitStopped(ctx context.Context) error {
	// the report following the acknowledgement may predate the jog
	for i := 0; ; i++ {
		st, err := m.nextReport(ctx)
		if err != nil {
			return err
		}
		if m.halt.Halted() {
			return ErrHalted
		}
		if i > 0 && !st.Moving() {
			return nil
		}
	}
}

// IsMoving reports whether a DeltaMove is in progress.
func (m *Machine) IsMoving() bool { return m.jogging.Load() }

// Stop cancels the jog in progress.
func (m *Machine) Stop() {
	if err := m.a.WriteByte(0x85); err != nil {
		m.log.Error("jog cancel", "err", err)
	}
}

// SyncPosition waits for a fresh status report and resets the tracked
// position to the reported one.
func (m *Machine) SyncPosition(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := m.nextReport(ctx)
	if err != nil {
		return err
	}
	m.mx.Lock()
	m.vm.SetMPos(st.MPos)
	m.vm.SetWCO(st.WCO)
	m.mx.Unlock()
	return nil
}
