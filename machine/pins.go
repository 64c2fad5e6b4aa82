package machine

import (
	"context"
	"fmt"
	"sort"

	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/pubdata"
)

// Pin reports whether the input pin with the given letter is asserted.
func (m *Machine) Pin(letter byte) bool { return m.State().Pin(letter) }

// PinReader returns a reader for a debounced input. activeHigh false
// inverts the pin.
func (m *Machine) PinReader(letter byte, activeHigh bool) func() bool {
	return func() bool { return m.Pin(letter) == activeHigh }
}

// SetSwitch turns a named output on or off.
func (m *Machine) SetSwitch(name string, on bool) error {
	sw, ok := m.switches[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSwitch, name)
	}
	line := sw.Off
	if on {
		line = sw.On
	}
	b, err := gcode.ParseLine(line)
	if err != nil {
		return fmt.Errorf("switch %s: %w", name, err)
	}
	if b != nil {
		if _, err := m.a.Write([]byte(b.String() + "\n")); err != nil {
			return err
		}
	}
	m.mx.Lock()
	m.switchOn[name] = on
	m.mx.Unlock()
	return nil
}

// Switches returns the last requested state of every switch.
func (m *Machine) Switches() []pubdata.SwitchState {
	m.mx.Lock()
	defer m.mx.Unlock()
	res := make([]pubdata.SwitchState, 0, len(m.switches))
	for name := range m.switches {
		res = append(res, pubdata.SwitchState{Name: name, On: m.switchOn[name]})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// ProbeStatus reports the probe input and when it was last asserted.
func (m *Machine) ProbeStatus() pubdata.ProbeStatus {
	m.mx.Lock()
	defer m.mx.Unlock()
	return pubdata.ProbeStatus{
		Triggered:     m.last.Pin(m.probePin),
		LastTriggered: m.probeAt,
	}
}

// RegisterBus publishes spindle, laser, switch and probe status.
func (m *Machine) RegisterBus(b *pubdata.Bus) {
	b.HandleGet(pubdata.GetSpindleStatus, pubdata.Getter(func() pubdata.SpindleStatus {
		return pubdata.SpindleStatus{Running: m.SpindleOn()}
	}))
	b.HandleSet(pubdata.TurnOffSpindle, func(any) error {
		return m.Submit(context.Background(), gcode.Block{gcode.M(5)})
	})
	b.HandleGet(pubdata.GetLaserStatus, pubdata.Getter(func() pubdata.LaserStatus {
		return pubdata.LaserStatus{Mode: m.LaserMode()}
	}))
	b.HandleGet(pubdata.GetSwitchState, pubdata.Getter(m.Switches))
	b.HandleSet(pubdata.SetSwitchState, pubdata.Setter(func(s pubdata.SwitchState) error {
		return m.SetSwitch(s.Name, s.On)
	}))
	b.HandleGet(pubdata.GetProbeStatus, pubdata.Getter(m.ProbeStatus))
}
