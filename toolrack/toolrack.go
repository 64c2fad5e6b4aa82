// Package toolrack computes tool slot and reference positions from
// the machine configuration.
package toolrack

import (
	"time"

	"github.com/mastercactapus/gatc/config"
	"github.com/mastercactapus/gatc/coord"
)

const (
	rackTools         = 6
	extendedRackTools = 8
	manualSlots       = 6

	// probeDrop is how far the tool setter sits below the rack.
	probeDrop = 40
)

// Slot is the machine position of a tool holder.
type Slot struct {
	Index   int
	X, Y, Z float64
	Valid   bool
}

// Point returns the slot position.
func (s Slot) Point() coord.Point { return coord.Point{X: s.X, Y: s.Y, Z: s.Z} }

// Table holds slots indexed by tool number.
type Table []Slot

// Slot returns the slot for tool n if it exists and is configured.
func (t Table) Slot(n int) (Slot, bool) {
	if n < 0 || n >= len(t) || !t[n].Valid {
		return Slot{}, false
	}
	return t[n], true
}

// OneOffOffset is a transient adjustment of the probe position.
type OneOffOffset struct {
	X, Y, Z    float64
	Configured bool
}

// Model is the coordinate model of one machine. It is read-only once built.
type Model struct {
	Caps config.Capabilities

	Anchor1       coord.Point
	Anchor2Offset coord.Point
	AnchorWidth   float64

	Rotation      coord.Point
	RotationWidth float64
	RotationAngle float64

	ToolrackOffset coord.Point
	ToolrackZ      float64
	ToolrackStep   float64

	Clearance coord.Point

	SafeZ       float64
	SafeZEmpty  float64
	SafeZOffset float64
	FastZRate   float64
	SlowZRate   float64
	MarginRate  float64

	ProbeFastRate float64
	ProbeSlowRate float64
	ProbeRetract  float64
	ProbeHeight   float64
	TipDiameter   float64

	ManualToolMax int

	// Homing and Detector carry the clamp and detector motion limits.
	Homing   config.Homing
	Detector config.Detector

	// ProbeWindow is how recently the wireless probe must have triggered
	// to be trusted.
	ProbeWindow time.Duration

	Calibration config.Calibration

	Tools Table

	// Overridden is set when Tools came from the configured slot table.
	Overridden bool

	// Probe is the tool setter position.
	Probe coord.Point
}

// New builds the model for cfg.
func New(cfg *config.Config) *Model {
	c := cfg.Coordinate
	m := &Model{
		Caps:           cfg.Machine.Capabilities(),
		Anchor1:        coord.Point{X: c.Anchor1.X, Y: c.Anchor1.Y},
		Anchor2Offset:  coord.Point{X: c.Anchor2Offset.X, Y: c.Anchor2Offset.Y},
		AnchorWidth:    c.AnchorWidth,
		Rotation:       coord.Point{X: c.RotationOffset.X, Y: c.RotationOffset.Y, Z: c.RotationOffset.Z},
		RotationWidth:  c.RotationWidth,
		RotationAngle:  c.RotationAngle,
		ToolrackOffset: coord.Point{X: c.ToolrackOffset.X, Y: c.ToolrackOffset.Y},
		ToolrackZ:      c.ToolrackZ,
		ToolrackStep:   c.ToolrackStep,
		Clearance:      coord.Point{X: c.Clearance.X, Y: c.Clearance.Y, Z: c.Clearance.Z},

		SafeZ:       cfg.ATC.SafeZ,
		SafeZEmpty:  cfg.ATC.SafeZEmpty,
		SafeZOffset: cfg.ATC.SafeZOffset,
		FastZRate:   cfg.ATC.FastZRate,
		SlowZRate:   cfg.ATC.SlowZRate,
		MarginRate:  cfg.ATC.MarginRate,

		ProbeFastRate: cfg.ATC.Probe.FastRate,
		ProbeSlowRate: cfg.ATC.Probe.SlowRate,
		ProbeRetract:  cfg.ATC.Probe.Retract,
		ProbeHeight:   cfg.ATC.Probe.Height,
		TipDiameter:   cfg.ATC.Probe.TipDiameter,

		ManualToolMax: cfg.ATC.ManualToolMax,

		Homing:      cfg.ATC.Homing,
		Detector:    cfg.ATC.Detector,
		ProbeWindow: cfg.ATC.Probe.ValidWindow,
		Calibration: cfg.ATC.Calibration,
	}

	m.Tools, m.Overridden = overrideTable(cfg.ATC.ToolSlots)
	if !m.Overridden {
		m.Tools = m.generateTable()
	}
	m.Probe = m.probePosition(cfg.ATC.ProbePosition)

	return m
}

// rackBase is the machine XY of the rack origin.
func (m *Model) rackBase() coord.Point {
	return m.Anchor1.Add(m.ToolrackOffset).WithZ(m.ToolrackZ)
}

// RackTools returns the number of changer slots, not counting the probe slot.
func (m *Model) RackTools() int {
	switch {
	case !m.Caps.ATC:
		return 0
	case m.Caps.ExtendedRack:
		return extendedRackTools
	}
	return rackTools
}

func (m *Model) generateTable() Table {
	base := m.rackBase()
	step := m.ToolrackStep

	if !m.Caps.ATC {
		t := make(Table, manualSlots)
		for i := range t {
			t[i] = Slot{Index: i, X: base.X, Y: base.Y + float64(manualSlots-1-i)*step, Z: base.Z, Valid: true}
		}
		return t
	}

	n := m.RackTools()
	t := make(Table, n+1)
	for i := range t {
		off := float64(n-i) * step
		if i == 0 {
			// the probe holder sits past the tool setter
			off = float64(n+1) * step
		}
		t[i] = Slot{Index: i, X: base.X, Y: base.Y + off, Z: base.Z, Valid: true}
	}
	return t
}

func overrideTable(slots []config.ToolSlot) (Table, bool) {
	max := -1
	for _, s := range slots {
		if s.Enabled && s.Index > max {
			max = s.Index
		}
	}
	if max < 0 {
		return nil, false
	}

	t := make(Table, max+1)
	for _, s := range slots {
		if !s.Enabled {
			continue
		}
		t[s.Index] = Slot{Index: s.Index, X: s.X, Y: s.Y, Z: s.Z, Valid: true}
	}
	return t, true
}

func (m *Model) probePosition(o config.OptionalPoint) coord.Point {
	n := m.RackTools()
	if n == 0 {
		n = manualSlots
	}
	base := m.rackBase()
	p := coord.Point{
		X: base.X,
		Y: base.Y + float64(n)*m.ToolrackStep,
		Z: m.ToolrackZ - probeDrop,
	}
	if o.X != nil {
		p.X = *o.X
	}
	if o.Y != nil {
		p.Y = *o.Y
	}
	if o.Z != nil {
		p.Z = *o.Z
	}
	return p
}

// ProbePosition returns the tool setter position adjusted by off.
func (m *Model) ProbePosition(off OneOffOffset) coord.Point {
	if !off.Configured {
		return m.Probe
	}
	return m.Probe.Add(coord.Point{X: off.X, Y: off.Y, Z: off.Z})
}

// Anchor2 returns the machine position of the second anchor.
func (m *Model) Anchor2() coord.Point {
	return m.Anchor1.Add(m.Anchor2Offset)
}

// RotaryCenter returns the machine XY of the rotary axis headstock
// with Z at the axis height.
func (m *Model) RotaryCenter() coord.Point {
	return m.Anchor1.Add(m.Rotation)
}

// InRack reports whether tool n is held by the changer.
func (m *Model) InRack(n int) bool {
	if !m.Caps.ATC {
		return false
	}
	_, ok := m.Tools.Slot(n)
	return ok
}
