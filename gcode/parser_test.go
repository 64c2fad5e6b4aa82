package gcode

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Read(t *testing.T) {
	p := NewParser(bytes.NewBufferString("g53 g0 z-10 ; lift\n\n(comment) M6 T3\nM490.2\nG10 L20 P0 Z+1.5"))

	b, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, Block{G(53), G(0), Z(-10)}, b)

	b, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, Block{M(6), {W: 'T', Arg: 3}}, b)

	b, err = p.Read()
	require.NoError(t, err)
	w, ok := b.Code('M')
	require.True(t, ok)
	assert.Equal(t, 490, w.Code())
	assert.Equal(t, 2, w.Sub())

	b, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, "G10L20P0Z1.5", b.String())

	_, err = p.Read()
	assert.Equal(t, io.EOF, err)
}

func TestParseLine_Invalid(t *testing.T) {
	_, err := ParseLine("G0 X$1")
	assert.Error(t, err)

	b, err := ParseLine("  ; only a comment")
	assert.NoError(t, err)
	assert.Nil(t, b)
}

func TestBlock_String(t *testing.T) {
	assert.Equal(t, "G53G0X-359.123Y0", Block{G(53), G(0), X(-359.1234), Y(-0.0001)}.String())
	assert.Equal(t, "M490.2", Block{M(490.2)}.String())
}
