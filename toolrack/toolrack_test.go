package toolrack

import (
	"testing"

	"github.com/mastercactapus/gatc/config"
	"github.com/mastercactapus/gatc/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_GeneratedTable(t *testing.T) {
	tests := []struct {
		name     string
		machine  config.Machine
		slots    int
		slotY    map[int]float64
		probeY   float64
		inRack   bool
		rackSize int
	}{
		{
			name:     "c1",
			machine:  config.Machine{Model: config.ModelC1, ATC: true},
			slots:    7,
			slotY:    map[int]float64{0: -24, 1: -84, 6: -234},
			probeY:   -54,
			inRack:   true,
			rackSize: 6,
		},
		{
			name:     "c1 extended rack",
			machine:  config.Machine{Model: config.ModelC1, ATC: true, ExtendedRack: true},
			slots:    9,
			slotY:    map[int]float64{0: 36, 1: -24, 8: -234},
			probeY:   6,
			inRack:   true,
			rackSize: 8,
		},
		{
			name:     "c1 without changer",
			machine:  config.Machine{Model: config.ModelC1},
			slots:    6,
			slotY:    map[int]float64{0: -84, 5: -234},
			probeY:   -54,
			rackSize: 0,
		},
		{
			name:     "air",
			machine:  config.Machine{Model: config.ModelAir, ATC: true, ExtendedRack: true, Rotary: true},
			slots:    6,
			slotY:    map[int]float64{0: -84, 5: -234},
			probeY:   -54,
			rackSize: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Machine = tt.machine
			m := New(cfg)

			assert.False(t, m.Overridden)
			require.Len(t, m.Tools, tt.slots)
			assert.Equal(t, tt.rackSize, m.RackTools())
			for i, s := range m.Tools {
				assert.Equal(t, i, s.Index)
				assert.True(t, s.Valid)
				assert.Equal(t, -3.0, s.X, "anchor1 x + toolrack offset x")
				assert.Equal(t, -105.0, s.Z)
			}
			for i, y := range tt.slotY {
				s, ok := m.Tools.Slot(i)
				require.True(t, ok, "slot %d", i)
				assert.Equal(t, y, s.Y, "slot %d", i)
			}
			assert.Equal(t, coord.Point{X: -3, Y: tt.probeY, Z: -145}, m.Probe)
			assert.Equal(t, tt.inRack, m.InRack(1))
			_, ok := m.Tools.Slot(len(m.Tools))
			assert.False(t, ok)
		})
	}
}

func TestNew_StepIsLinear(t *testing.T) {
	cfg := config.Default()
	cfg.Coordinate.ToolrackStep = 25
	m := New(cfg)

	for i := 1; i < len(m.Tools)-1; i++ {
		assert.InDelta(t, 25, m.Tools[i].Y-m.Tools[i+1].Y, 1e-9, "slot %d", i)
	}
}

func TestNew_OverrideTable(t *testing.T) {
	cfg := config.Default()
	cfg.ATC.ToolSlots = []config.ToolSlot{
		{Index: 1, Enabled: false, X: 1, Y: 1, Z: 1},
		{Index: 3, Enabled: true, X: -10, Y: -20, Z: -90},
		{Index: 2, Enabled: true, X: -11, Y: -21, Z: -91},
	}
	m := New(cfg)

	assert.True(t, m.Overridden)
	require.Len(t, m.Tools, 4, "resized to the highest enabled index")

	_, ok := m.Tools.Slot(0)
	assert.False(t, ok, "unset slots are invalid")
	_, ok = m.Tools.Slot(1)
	assert.False(t, ok, "disabled slots are invalid")

	s, ok := m.Tools.Slot(3)
	require.True(t, ok)
	assert.Equal(t, coord.Point{X: -10, Y: -20, Z: -90}, s.Point())

	assert.True(t, m.InRack(2))
	assert.False(t, m.InRack(0))
	assert.False(t, m.InRack(6), "generated slots are gone")
}

func TestNew_AllDisabledOverrideKeepsFormula(t *testing.T) {
	cfg := config.Default()
	cfg.ATC.ToolSlots = []config.ToolSlot{{Index: 4, Enabled: false}}
	m := New(cfg)

	assert.False(t, m.Overridden)
	assert.Len(t, m.Tools, 7)
}

func TestProbePosition(t *testing.T) {
	cfg := config.Default()
	z := -150.0
	cfg.ATC.ProbePosition.Z = &z
	m := New(cfg)

	assert.Equal(t, coord.Point{X: -3, Y: -54, Z: -150}, m.Probe, "per-axis override")
	assert.Equal(t, m.Probe, m.ProbePosition(OneOffOffset{X: 5}), "unconfigured offset is ignored")
	assert.Equal(t, coord.Point{X: 2, Y: -54, Z: -149},
		m.ProbePosition(OneOffOffset{X: 5, Z: 1, Configured: true}))
}

func TestAnchors(t *testing.T) {
	m := New(config.Default())
	a2 := m.Anchor2()
	assert.Equal(t, -269.0, a2.X)
	assert.InDelta(t, -188.35, a2.Y, 1e-9)
	assert.Equal(t, coord.Point{X: -367, Y: -196.5, Z: 22.5}, m.RotaryCenter())
}
