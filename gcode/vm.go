package gcode

import (
	"errors"

	"github.com/mastercactapus/gatc/coord"
)

// VM will track state and interpret gcode.
type VM struct {
	pos coord.Point
	wco coord.Point

	modal [256]float64

	feed float64
}

// NewVM constructs a new VM with default state.
func NewVM() *VM {
	vm := &VM{}

	// using grbl defaults
	vm.modal[ModalGroupMotion] = 0
	vm.modal[ModalGroupCoordinateSystem] = 54
	vm.modal[ModalGroupPlaneSelection] = 17
	vm.modal[ModalGroupDistanceMode] = 90
	vm.modal[ModalGroupArcDistanceMode] = 91.1
	vm.modal[ModalGroupFeedRateMode] = 94
	vm.modal[ModalGroupUnits] = 21
	vm.modal[ModalGroupCutterCompensationMode] = 40
	vm.modal[ModalGroupToolLength] = 49
	vm.modal[ModalGroupStopping] = 0
	vm.modal[ModalGroupSpindle] = 5
	vm.modal[ModalGroupCoolant] = 9

	return vm
}

func (vm VM) Inches() bool         { return vm.modal[ModalGroupUnits] == 20 }
func (vm VM) RelativeMotion() bool { return vm.modal[ModalGroupDistanceMode] == 91 }

// SpindleOn reports whether the last spindle word was M3 or M4.
func (vm VM) SpindleOn() bool { return vm.modal[ModalGroupSpindle] != 5 }

// Modal returns the active code for the group.
func (vm VM) Modal(g ModalGroup) float64 { return vm.modal[g] }

// Feed returns the last programmed feed rate.
func (vm VM) Feed() float64 { return vm.feed }

func (vm VM) WPos() coord.Point {
	return vm.pos.Sub(vm.wco)
}
func (vm VM) MPos() coord.Point {
	return vm.pos
}
func (vm *VM) SetMPos(p coord.Point) {
	vm.pos = p
}
func (vm *VM) SetWCO(p coord.Point) {
	vm.wco = p
}
func (vm VM) WCO() coord.Point {
	return vm.wco
}

// Snapshot returns a block that restores the current modal state
// (units, plane, distance modes, feed mode, work coordinate system and feed).
func (vm VM) Snapshot() Block {
	b := make(Block, 0, len(restoreGroups)+1)
	for _, g := range restoreGroups {
		b = append(b, G(vm.modal[g]))
	}
	if vm.feed > 0 {
		b = append(b, F(vm.feed))
	}
	return b
}

func isSupported(g Word) bool {
	if g.IsAxis() {
		return true
	}

	switch g.W {
	case 'F', 'S', 'T', 'P', 'N':
		return true
	case 'G':
		switch g.Arg {
		case 0, 1, 4, 17, 20, 21, 40, 49, 54, 55, 56, 57, 58, 59, 80, 90, 91, 94:
			return true
		}
	case 'M':
		switch g.Arg {
		case 0, 1, 2, 3, 4, 5, 7, 8, 9, 30:
			return true
		}
	}

	return false
}

func applyBlock(p coord.Point, b Block, mul float64) coord.Point {
	for _, g := range b {
		switch g.W {
		case 'X':
			p.X = g.Arg * mul
		case 'Y':
			p.Y = g.Arg * mul
		case 'Z':
			p.Z = g.Arg * mul
		}
	}

	return p
}

// Track records modal words from b without interpreting motion.
// Unlike Run it accepts any valid block.
func (vm *VM) Track(b Block) {
	for _, g := range b {
		mg := g.ModalGroup()
		switch {
		case mg == ModalGroupFeedRate:
			vm.feed = g.Arg
		case mg != ModalGroupNone && mg != ModalGroupNonModal:
			vm.modal[mg] = g.Arg
		}
	}
}

// Run interprets b, updating the modal state and position.
func (vm *VM) Run(b Block) error {
	err := b.Validate()
	if err != nil {
		return err
	}
	var machineCoords bool
	for _, g := range b {
		if !isSupported(g) && g != G(53) {
			return errors.New("unsupported code: " + g.String())
		}
		if g == G(53) {
			machineCoords = true
		}
	}
	vm.Track(b)

	args := b.Args()
	if len(args) == 0 {
		return nil
	}

	mul := 1.0
	if vm.Inches() {
		mul = 25.4
	}
	// apply motion
	if machineCoords {
		vm.pos = applyBlock(vm.pos, args, 1)
	} else if vm.RelativeMotion() {
		vm.pos = vm.pos.Add(applyBlock(coord.Point{}, args, mul))
	} else {
		vm.pos = applyBlock(vm.WPos(), args, mul).Add(vm.wco)
	}

	return nil
}
