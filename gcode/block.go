package gcode

import (
	"errors"
	"strings"
)

// Block is a single line of gcode.
type Block []Word

// Arg returns the value of the first word with the letter w.
func (b Block) Arg(w byte) (bool, float64) {
	for _, g := range b {
		if g.W == w {
			return true, g.Arg
		}
	}
	return false, 0
}

// Has reports whether the block contains the letter w.
func (b Block) Has(w byte) bool {
	ok, _ := b.Arg(w)
	return ok
}

// Code returns the first G or M word that matches letter w.
func (b Block) Code(w byte) (Word, bool) {
	for _, g := range b {
		if g.W == w {
			return g, true
		}
	}
	return Word{}, false
}

func (b Block) SetArg(w byte, val float64) {
	for i, g := range b {
		if g.W == w {
			b[i].Arg = val
			return
		}
	}
}

// With returns a copy of b with the words appended.
func (b Block) With(words ...Word) Block {
	res := make(Block, 0, len(b)+len(words))
	res = append(res, b...)
	return append(res, words...)
}

func (b Block) Args() Block {
	res := make(Block, 0, len(b))
	for _, g := range b {
		if g.ModalGroup() == ModalGroupNone {
			res = append(res, g)
		}
	}
	return res
}
func (b Block) Clone() Block {
	c := make(Block, len(b))
	copy(c, b)
	return c
}

func (b Block) HasModal() bool {
	for _, g := range b {
		if g.ModalGroup() != ModalGroupNone {
			return true
		}
	}
	return false
}

func (b Block) Validate() error {
	var checkWord [256]bool
	var checkModal [256]bool

	var m ModalGroup
	for _, g := range b {
		if !g.IsValid() {
			return errors.New("invalid word in block")
		}
		if g.W != 'G' && g.W != 'M' && checkWord[g.W] {
			return errors.New("word was repeated in a block")
		}
		checkWord[g.W] = true
		m = g.ModalGroup()
		if m != ModalGroupNone && m != ModalGroupNonModal && checkModal[m] {
			return errors.New("multiple words from same modal group")
		}
		checkModal[m] = true
	}

	return nil
}

// String renders the block without separators, the way Grbl echoes it.
func (b Block) String() string {
	var sb strings.Builder
	for _, w := range b {
		sb.WriteString(w.String())
	}
	return sb.String()
}
