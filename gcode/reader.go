package gcode

import "io"

// Reader is a source of gcode blocks. It returns io.EOF when done.
type Reader interface {
	Read() (Block, error)
}

// ReaderFunc adapts a function to a Reader.
type ReaderFunc func() (Block, error)

func (fn ReaderFunc) Read() (Block, error) { return fn() }

type BlocksReader struct {
	Blocks []Block
	n      int
}

func (b *BlocksReader) Read() (Block, error) {
	if b.n == len(b.Blocks) {
		return nil, io.EOF
	}

	b.n++
	return b.Blocks[b.n-1], nil
}

// ReadAll collects blocks from r until io.EOF.
func ReadAll(r Reader) ([]Block, error) {
	var res []Block
	for {
		b, err := r.Read()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res = append(res, b)
	}
}
