package gcode

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_Read(t *testing.T) {
	gr := &BlocksReader{Blocks: []Block{
		{G(53), G(0), Z(-10)},
		{G(91), G(38.2), Z(-135), F(300)},
	}}
	b := NewBuffer(gr)

	buf := make([]byte, 64)
	n, err := b.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "G53G0Z-10\nG91G38.2Z-135F300\n", string(buf[:n]))

	n, err = b.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)
}

func TestBuffer_ShortReads(t *testing.T) {
	b := NewBuffer(&BlocksReader{Blocks: []Block{
		{G(53), G(0), X(-3), Y(-144)},
		{M(490.1)},
	}})

	buf := make([]byte, 6)
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "G53G0X", string(buf[:n]))
	assert.Equal(t, "-3Y-144\n", string(b.Buffered()))

	rest, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "-3Y-144\nM490.1\n", string(rest))
}

func TestBuffer_Normalize(t *testing.T) {
	src := "g53 g0 z-3 (clearance)\n\n; pick\nG53G1Z-95F500\nm490.1"
	data, err := io.ReadAll(NewBuffer(NewParser(strings.NewReader(src))))
	require.NoError(t, err)
	assert.Equal(t, "G53G0Z-3\nG53G1Z-95F500\nM490.1\n", string(data))

	_, err = io.ReadAll(NewBuffer(NewParser(strings.NewReader("G53G0Z-3\nG0 X=1\n"))))
	assert.Error(t, err)
}
