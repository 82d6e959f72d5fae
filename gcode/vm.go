package gcode

import (
	"github.com/mastercactapus/glaser/coord"
)

// Motion classifies the movement a block performs.
type Motion int

const (
	MotionNone Motion = iota
	MotionRapid
	MotionLinear
	MotionArc
)

// Step describes the effect of a single block on the VM.
type Step struct {
	Block  Block
	Motion Motion

	From, To coord.Point

	// LaserOn is set for M3/M4, LaserOff for M5.
	LaserOn, LaserOff bool

	// DistanceChange is set when the block contains G90 or G91.
	DistanceChange bool

	// Relative is the distance mode in effect for the block's motion.
	Relative bool

	// Feed and Power are the modal F and S values after the block.
	Feed, Power float64

	// Extra is set when the block carries words other than G0-G3, X, Y, F and S.
	Extra bool
}

// Idle reports whether the step moves without cutting. Linear moves only
// count as idle once laser mode has been seen and the laser is off.
func (s Step) Idle(laserMode, laserOn bool) bool {
	switch s.Motion {
	case MotionRapid:
		return true
	case MotionLinear:
		return laserMode && !laserOn
	}
	return false
}

// VM will track modal state of a program.
type VM struct {
	pos coord.Point

	modal [256]float64

	feed  float64
	power float64

	laserOn   bool
	laserMode bool
}

// NewVM constructs a new VM with default state.
func NewVM() *VM {
	vm := &VM{}

	// using grbl defaults
	vm.modal[ModalGroupMotion] = 0
	vm.modal[ModalGroupCoordinateSystem] = 54
	vm.modal[ModalGroupPlaneSelection] = 17
	vm.modal[ModalGroupDistanceMode] = 90
	vm.modal[ModalGroupFeedRateMode] = 94
	vm.modal[ModalGroupUnits] = 21
	vm.modal[ModalGroupSpindle] = 5
	vm.modal[ModalGroupCoolant] = 9

	return vm
}

func (vm *VM) Relative() bool       { return vm.modal[ModalGroupDistanceMode] == 91 }
func (vm *VM) Pos() coord.Point     { return vm.pos }
func (vm *VM) SetPos(p coord.Point) { vm.pos = p }
func (vm *VM) Feed() float64        { return vm.feed }
func (vm *VM) Power() float64       { return vm.power }
func (vm *VM) LaserOn() bool        { return vm.laserOn }

// LaserMode reports whether any laser on/off command was seen.
func (vm *VM) LaserMode() bool { return vm.laserMode }

func applyBlock(p coord.Point, b Block, relative bool) coord.Point {
	for _, g := range b {
		switch g.W {
		case 'X':
			if relative {
				p.X += g.Arg
			} else {
				p.X = g.Arg
			}
		case 'Y':
			if relative {
				p.Y += g.Arg
			} else {
				p.Y = g.Arg
			}
		}
	}

	return p
}

// Run applies b and reports what it did.
func (vm *VM) Run(b Block) Step {
	st := Step{Block: b, From: vm.pos}
	var nonModal bool
	for _, g := range b {
		mg := g.ModalGroup()
		switch mg {
		case ModalGroupNone:
			switch g.W {
			case 'X', 'Y':
			default:
				st.Extra = true
			}
		case ModalGroupNonModal:
			nonModal = true
			st.Extra = true
		case ModalGroupFeedRate:
			vm.feed = g.Arg
		case ModalGroupPower:
			vm.power = g.Arg
		case ModalGroupDistanceMode:
			st.DistanceChange = true
			vm.modal[mg] = g.Arg
			st.Extra = true
		case ModalGroupSpindle:
			vm.laserMode = true
			vm.laserOn = g.Arg != 5
			st.LaserOn = vm.laserOn
			st.LaserOff = !vm.laserOn
			vm.modal[mg] = g.Arg
			st.Extra = true
		case ModalGroupMotion:
			vm.modal[mg] = g.Arg
			if g.Arg != 0 && g.Arg != 1 {
				st.Extra = true
			}
		default:
			vm.modal[mg] = g.Arg
			st.Extra = true
		}
	}
	st.Relative = vm.Relative()
	st.Feed, st.Power = vm.feed, vm.power

	if nonModal || !b.HasAxis() {
		// G92 and friends move the frame, not the tool
		st.To = vm.pos
		return st
	}

	switch vm.modal[ModalGroupMotion] {
	case 0:
		st.Motion = MotionRapid
	case 1:
		st.Motion = MotionLinear
	case 2, 3:
		st.Motion = MotionArc
	default:
		st.To = vm.pos
		return st
	}
	vm.pos = applyBlock(vm.pos, b, st.Relative)
	st.To = vm.pos
	return st
}
