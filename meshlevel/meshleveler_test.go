package meshlevel

import (
	"io"
	"testing"

	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/gcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// probes indicate a rise of 30mm over 100mm, or .3mm Z for every 1mm X
var slope = []coord.Point{
	{X: -700, Y: -450, Z: -80},
	{X: -700, Y: -550, Z: -80},
	{X: -600, Y: -450, Z: -50},
	{X: -600, Y: -550, Z: -50},
}

func TestLeveler_Relative(t *testing.T) {
	mesh, err := NewMesh(slope)
	require.NoError(t, err)

	// the head floats above the bed; moving right must raise Z
	l := New(Config{
		Offsetter:   mesh,
		MPos:        coord.Point{X: -650, Y: -500, Z: -60},
		Granularity: 1,
		Reader:      &gcode.BlocksReader{Blocks: gcode.MustParse(`G91 G0 X3`)},
	})

	for range 3 {
		b, err := l.Read()
		require.NoError(t, err)
		assert.Equal(t, "G91G0X1Z0.3", b.String())
	}

	_, err = l.Read()
	assert.Equal(t, io.EOF, err)
}

func TestLeveler_Absolute(t *testing.T) {
	mesh, err := FromProbes(slope)
	require.NoError(t, err)

	l := New(Config{
		Offsetter:   mesh,
		MPos:        coord.Point{X: -700, Y: -500, Z: -60},
		Granularity: 10,
		Reader: &gcode.BlocksReader{Blocks: gcode.MustParse(`
			G90 G1 X-690 Z-60 F100
			G53 G0 Z-3
		`)},
	})

	b, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, "G90G1X-690Z-57F100", b.String())

	b, err = l.Read()
	require.NoError(t, err)
	assert.Equal(t, "G53G0Z-3", b.String(), "machine moves are not leveled")
}

func TestLeveler_OffMesh(t *testing.T) {
	mesh, err := NewMesh(slope)
	require.NoError(t, err)

	l := New(Config{
		Offsetter:   mesh,
		Granularity: 100,
		Reader:      &gcode.BlocksReader{Blocks: gcode.MustParse(`G91 G0 X3`)},
	})
	b, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, "G91G0X3", b.String())
}

func TestMesh(t *testing.T) {
	_, err := NewMesh(slope[:2])
	assert.ErrorIs(t, err, ErrTooFewPoints)

	mesh, err := FromProbes(slope)
	require.NoError(t, err)
	assert.Equal(t, 2, mesh.Triangles())
	assert.Len(t, mesh.Points(), 4)

	ok, z := mesh.OffsetZ(-650, -500)
	assert.True(t, ok)
	assert.InDelta(t, 15, z, 1e-9)

	ok, _ = mesh.OffsetZ(0, 0)
	assert.False(t, ok)
}
