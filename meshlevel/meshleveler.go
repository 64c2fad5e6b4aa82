package meshlevel

import (
	"math"

	"github.com/mastercactapus/gatc/coord"
	"github.com/mastercactapus/gatc/gcode"
)

// Leveler splits long moves into segments no longer than the
// granularity and shifts Z of each segment by the mesh correction.
type Leveler struct {
	granularity float64
	offsetter   Offsetter

	pending []gcode.Block

	splitVM *gcode.VM
	levelVM *gcode.VM

	src gcode.Reader
}

type Config struct {
	Offsetter   Offsetter
	Granularity float64

	// MPos and WCO are the machine position and work offset when the
	// first block is read.
	MPos, WCO coord.Point

	Reader gcode.Reader
}

func New(cfg Config) *Leveler {
	l := &Leveler{
		splitVM: gcode.NewVM(),
		levelVM: gcode.NewVM(),

		granularity: cfg.Granularity,
		src:         cfg.Reader,
		offsetter:   cfg.Offsetter,
	}
	if l.offsetter == nil {
		l.offsetter = noOffset{}
	}
	if l.granularity <= 0 {
		l.granularity = 1
	}
	for _, vm := range []*gcode.VM{l.splitVM, l.levelVM} {
		vm.SetMPos(cfg.MPos)
		vm.SetWCO(cfg.WCO)
	}

	return l
}

func (l *Leveler) Read() (gcode.Block, error) {
	b, err := l.next()
	if err != nil {
		return nil, err
	}

	from := l.levelVM.WPos()
	if err := l.levelVM.Run(b); err != nil {
		return nil, err
	}
	to := l.levelVM.WPos()
	if from.Equal(to) || machineMove(b) {
		return b, nil
	}

	// blocks that end off the mesh pass through unchanged
	ok, toOffset := l.offsetter.OffsetZ(to.X, to.Y)
	if !ok {
		return b, nil
	}

	if !l.levelVM.RelativeMotion() {
		if toOffset == 0 {
			return b, nil
		}
		return withZ(b, to.Z+toOffset), nil
	}

	ok, fromOffset := l.offsetter.OffsetZ(from.X, from.Y)
	if !ok || fromOffset == toOffset {
		return b, nil
	}
	_, dz := b.Arg('Z')
	return withZ(b, dz+toOffset-fromOffset), nil
}

func machineMove(b gcode.Block) bool {
	for _, w := range b {
		if w == gcode.G(53) {
			return true
		}
	}
	return false
}

func withZ(b gcode.Block, z float64) gcode.Block {
	if b.Has('Z') {
		b = b.Clone()
		b.SetArg('Z', z)
		return b
	}
	return b.With(gcode.Z(z))
}

func (l *Leveler) next() (gcode.Block, error) {
	if len(l.pending) > 0 {
		b := l.pending[0]
		l.pending = l.pending[1:]
		return b, nil
	}
	b, err := l.src.Read()
	if err != nil {
		return nil, err
	}

	from := l.splitVM.WPos()
	if err := l.splitVM.Run(b); err != nil {
		return nil, err
	}
	to := l.splitVM.WPos()
	if from.Equal(to) {
		return b, nil
	}
	dist := from.DistanceXY(to.X, to.Y)
	if dist <= l.granularity {
		return b, nil
	}

	n := int(math.Ceil(dist / l.granularity))
	relative := l.splitVM.RelativeMotion()
	for _, p := range from.Split(to, n, relative) {
		seg := b.Clone()
		seg.SetArg('X', p.X)
		seg.SetArg('Y', p.Y)
		seg.SetArg('Z', p.Z)
		l.pending = append(l.pending, seg)
	}

	return l.next()
}
