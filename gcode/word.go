package gcode

import (
	"strconv"
	"strings"
)

// Word is a single letter/number pair, like `G53` or `X-12.5`.
type Word struct {
	W   byte
	Arg float64
}

func G(arg float64) Word { return Word{W: 'G', Arg: arg} }
func M(arg float64) Word { return Word{W: 'M', Arg: arg} }
func X(arg float64) Word { return Word{W: 'X', Arg: arg} }
func Y(arg float64) Word { return Word{W: 'Y', Arg: arg} }
func Z(arg float64) Word { return Word{W: 'Z', Arg: arg} }
func A(arg float64) Word { return Word{W: 'A', Arg: arg} }
func F(arg float64) Word { return Word{W: 'F', Arg: arg} }

// Axis returns the word for the given axis letter.
func Axis(w byte, arg float64) Word { return Word{W: w, Arg: arg} }

func (w Word) IsAxis() bool {
	switch w.W {
	case 'X', 'Y', 'Z', 'A', 'B', 'C':
		return true
	}
	return false
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

// Sub returns the subcode of the word, e.g. 2 for `M490.2`.
func (w Word) Sub() int {
	_, frac := splitCode(w.Arg)
	return frac
}

// Code returns the integer part of the word, e.g. 490 for `M490.2`.
func (w Word) Code() int {
	n, _ := splitCode(w.Arg)
	return n
}

func splitCode(arg float64) (int, int) {
	n := int(arg)
	frac := int((arg-float64(n))*10 + 0.5)
	return n, frac
}

func formatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func (w Word) String() string {
	return string(w.W) + formatFloat(w.Arg, 3)
}
