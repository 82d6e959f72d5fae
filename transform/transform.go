// Package transform rewrites laser programs line by line.
//
// Every function takes cleaned lines (see gcode.Clean) and returns new
// lines. System commands and lines with unreadable tokens are passed
// through untouched.
package transform

import (
	"errors"
	"math"

	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/gcode"
)

var (
	ErrNoPower  = errors.New("no S words found")
	ErrNoExtent = errors.New("program has no extent")
)

// Stats summarize a program.
type Stats struct {
	Lines  int
	Bounds coord.Bounds

	MaxWorkFeed float64
	MaxIdleFeed float64
	MaxPower    float64

	// IdleG1 is set when linear moves are used with the laser off.
	IdleG1 bool
}

type rewriteFunc func(b gcode.Block, st gcode.Step, vm *gcode.VM) []gcode.Block

func rewrite(lines []string, fn rewriteFunc) []string {
	vm := gcode.NewVM()
	res := make([]string, 0, len(lines))
	for _, l := range lines {
		b, err := gcode.ParseLine(l)
		if b == nil {
			res = append(res, l)
			continue
		}
		st := vm.Run(b)
		if err != nil {
			res = append(res, l)
			continue
		}
		for _, nb := range fn(b.Clone(), st, vm) {
			res = append(res, nb.String())
		}
	}
	return res
}

func idle(st gcode.Step, vm *gcode.VM) bool {
	return st.Idle(vm.LaserMode(), vm.LaserOn())
}

// Analyze reports the extent, feeds and power of a program. The bounds
// start at the origin like the machine does.
func Analyze(lines []string) Stats {
	var s Stats
	s.Lines = len(lines)
	rewrite(lines, func(b gcode.Block, st gcode.Step, vm *gcode.VM) []gcode.Block {
		if ok, f := b.Arg('F'); ok {
			switch {
			case st.Motion == gcode.MotionRapid || (st.Motion != gcode.MotionNone && idle(st, vm)):
				s.MaxIdleFeed = math.Max(s.MaxIdleFeed, f)
			case st.Motion != gcode.MotionNone:
				s.MaxWorkFeed = math.Max(s.MaxWorkFeed, f)
			}
		}
		if ok, p := b.Arg('S'); ok {
			s.MaxPower = math.Max(s.MaxPower, p)
		}
		if st.Motion != gcode.MotionNone && !st.From.Equal(st.To) {
			s.Bounds.Extend(st.From)
			s.Bounds.Extend(st.To)
		}
		if st.Motion == gcode.MotionLinear && idle(st, vm) {
			s.IdleG1 = true
		}
		return nil
	})
	return s
}

func motionWord(b gcode.Block) (int, bool) {
	for i, w := range b {
		if w.ModalGroup() == gcode.ModalGroupMotion {
			return i, true
		}
	}
	return -1, false
}

// FixIdle turns linear moves made with the laser off into rapids. Later
// moves that relied on the linear motion mode get it back explicitly.
func FixIdle(lines []string) []string {
	if !Analyze(lines).IdleG1 {
		return lines
	}
	// program is the motion mode the source asked for, emitted the one
	// the rewritten lines leave the machine in
	var program, emitted float64
	return rewrite(lines, func(b gcode.Block, st gcode.Step, vm *gcode.VM) []gcode.Block {
		i, hasWord := motionWord(b)
		if hasWord {
			program = b[i].Arg
		}
		if st.Motion == gcode.MotionNone {
			if hasWord {
				emitted = program
			}
			return []gcode.Block{b}
		}
		want := program
		if st.Motion == gcode.MotionLinear && idle(st, vm) {
			want = 0
		}
		switch {
		case hasWord:
			b[i].Arg = want
		case want != emitted:
			b = append(gcode.Block{{W: 'G', Arg: want}}, b...)
		}
		emitted = want
		return []gcode.Block{b}
	})
}

// Scale moves the program into the positive quadrant and scales it
// uniformly so it fits within maxX by maxY.
func Scale(lines []string, maxX, maxY float64) ([]string, float64, error) {
	st := Analyze(lines)
	if st.Bounds.Empty() {
		return nil, 0, ErrNoExtent
	}
	var shift coord.Point
	if st.Bounds.Min.X < 0 {
		shift.X = -st.Bounds.Min.X
	}
	if st.Bounds.Min.Y < 0 {
		shift.Y = -st.Bounds.Min.Y
	}
	factor := math.Inf(1)
	if w := st.Bounds.Width(); w > 0 {
		factor = maxX / w
	}
	if h := st.Bounds.Height(); h > 0 {
		factor = math.Min(factor, maxY/h)
	}
	if math.IsInf(factor, 1) {
		return nil, 0, ErrNoExtent
	}

	res := rewrite(lines, func(b gcode.Block, s gcode.Step, vm *gcode.VM) []gcode.Block {
		for i, w := range b {
			switch w.W {
			case 'X':
				if s.Relative {
					b[i].Arg = w.Arg * factor
				} else {
					b[i].Arg = (w.Arg + shift.X) * factor
				}
			case 'Y':
				if s.Relative {
					b[i].Arg = w.Arg * factor
				} else {
					b[i].Arg = (w.Arg + shift.Y) * factor
				}
			case 'I', 'J':
				b[i].Arg = w.Arg * factor
			}
		}
		return []gcode.Block{b}
	})
	return res, factor, nil
}

// AdjustPower rescales every S word so the strongest becomes newMax, and
// turns laser-off linear moves into rapids.
func AdjustPower(lines []string, newMax float64) ([]string, error) {
	st := Analyze(lines)
	if st.MaxPower == 0 {
		return nil, ErrNoPower
	}
	prop := newMax / st.MaxPower
	res := rewrite(lines, func(b gcode.Block, s gcode.Step, vm *gcode.VM) []gcode.Block {
		for i, w := range b {
			if w.W == 'S' {
				b[i].Arg = math.Round(w.Arg * prop)
			}
		}
		return []gcode.Block{b}
	})
	return FixIdle(res), nil
}

// AdjustSpeed rescales feeds so the fastest cutting move runs at work and
// the fastest idle move at idleFeed. A non-positive idleFeed scales idle
// moves like cutting moves. Moves whose feed was only inherited get an
// explicit F so idle and cutting feeds do not bleed into each other.
func AdjustSpeed(lines []string, work, idleFeed float64) []string {
	st := Analyze(lines)
	propWork := 1.0
	if st.MaxWorkFeed > 0 {
		propWork = work / st.MaxWorkFeed
	}
	propIdle := propWork
	if idleFeed > 0 && st.MaxIdleFeed > 0 {
		propIdle = idleFeed / st.MaxIdleFeed
	}

	var emitted float64
	return rewrite(lines, func(b gcode.Block, s gcode.Step, vm *gcode.VM) []gcode.Block {
		hasF, _ := b.Arg('F')
		var idleMove bool
		switch s.Motion {
		case gcode.MotionNone:
			if !hasF {
				return []gcode.Block{b}
			}
			idleMove = vm.LaserMode() && !vm.LaserOn()
		case gcode.MotionRapid:
			idleMove = true
		default:
			idleMove = idle(s, vm)
		}
		prop := propWork
		if idleMove {
			prop = propIdle
		}
		want := s.Feed * prop
		if hasF || (s.Motion != gcode.MotionRapid && s.Feed > 0 && want != emitted) {
			b = b.Set('F', want)
			emitted = want
		}
		return []gcode.Block{b}
	})
}

func isLaserCommand(b gcode.Block) bool {
	for _, w := range b {
		if w.W == 'M' && (w.Arg == 3 || w.Arg == 4 || w.Arg == 5 || w.Arg == 106 || w.Arg == 107) {
			return true
		}
	}
	return false
}

// FixPower wraps every run of rapid moves in M5 and M3 S<power> for
// programs that never switch the laser around travel.
func FixPower(lines []string, power int) []string {
	vm := gcode.NewVM()
	res := make([]string, 0, len(lines))
	inRun := false
	for _, l := range lines {
		b, err := gcode.ParseLine(l)
		var st gcode.Step
		if b != nil {
			st = vm.Run(b)
		}
		rapid := b != nil && err == nil && st.Motion == gcode.MotionRapid
		switch {
		case rapid && !inRun:
			res = append(res, "M5")
			inRun = true
		case !rapid && inRun:
			inRun = false
			if b == nil || !isLaserCommand(b) {
				res = append(res, "M3 S"+gcode.FormatFloat(float64(power), 0))
			}
		}
		res = append(res, l)
	}
	return res
}
