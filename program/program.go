// Package program splits G-code into cutting segments and renders an
// ordered set of segments back into a flat instruction stream.
package program

import (
	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/gcode"
)

// DefaultIdleFeed is used for laser-mode travel when the input never states one.
const DefaultIdleFeed = 3000

// Program is a parsed, segmented G-code program.
type Program struct {
	Preamble []string
	Segments []*Segment
	Epilogue []string

	// LaserMode is set once any M3/M4/M5 was seen.
	LaserMode bool
	IdleFeed  float64

	// Start is the tool position at the end of the preamble, StartRelative
	// the distance mode in effect there.
	Start         coord.Point
	StartRelative bool

	// EndRelative is the distance mode the epilogue expects.
	EndRelative bool

	// Dropped counts idle moves after the first cut, which are regenerated
	// on output. Warnings holds every skipped-token report.
	Dropped  int
	Warnings []error
}

// Options controls segmentation.
type Options struct {
	// IdleFeed is used when no idle move states a feed rate.
	IdleFeed float64
}

type segmenter struct {
	p  *Program
	vm *gcode.VM

	cur     *Segment
	pending []string
	pendRel bool

	cutSeen   bool
	interior  bool
	laserLine string
}

// Parse segments already-cleaned lines.
func Parse(lines []string, opt Options) *Program {
	p := &Program{IdleFeed: opt.IdleFeed}
	if p.IdleFeed <= 0 {
		p.IdleFeed = DefaultIdleFeed
	}
	s := &segmenter{p: p, vm: gcode.NewVM()}
	for _, l := range lines {
		s.line(l)
	}
	s.flush()
	if !s.cutSeen {
		p.Start = s.vm.Pos()
		p.StartRelative = s.vm.Relative()
	}
	p.EndRelative = s.vm.Relative()
	if len(s.pending) > 0 {
		p.EndRelative = s.pendRel
	}
	p.Epilogue = append(p.Epilogue, s.pending...)
	p.LaserMode = s.vm.LaserMode()
	return p
}

func (s *segmenter) open(line string, st gcode.Step, entryRel bool) {
	if !s.cutSeen {
		s.cutSeen = true
		s.p.Start = st.From
		s.p.StartRelative = entryRel
	}
	seg := &Segment{
		Points:        []coord.Point{st.From},
		EntryRelative: entryRel,
		Relative:      st.Relative,
		Resume:        s.laserLine,
		Reversible:    true,
	}
	if len(s.pending) > 0 {
		seg.EntryRelative = s.pendRel
		seg.Lines = append(seg.Lines, s.pending...)
		s.pending = nil
	}
	s.cur = seg
	s.interior = false
}

func (s *segmenter) flush() {
	if s.cur == nil {
		return
	}
	s.p.Segments = append(s.p.Segments, s.cur)
	s.cur = nil
}

// hold keeps a non-motion line that is not part of any segment.
func (s *segmenter) hold(line string, entryRel bool) {
	if !s.cutSeen {
		s.p.Preamble = append(s.p.Preamble, line)
		return
	}
	if len(s.pending) == 0 {
		s.pendRel = entryRel
	}
	s.pending = append(s.pending, line)
}

func (s *segmenter) line(line string) {
	b, err := gcode.ParseLine(line)
	if err != nil {
		s.p.Warnings = append(s.p.Warnings, err)
	}
	entryRel := s.vm.Relative()
	st := s.vm.Run(b)
	if st.DistanceChange {
		s.flush()
	}

	switch {
	case st.LaserOn:
		s.laserLine = line
		if s.cur == nil {
			s.open(line, st, entryRel)
			s.cur.OwnLaserOn = true
			s.cur.Resume = ""
		} else if len(s.cur.moves) > 0 {
			s.interior = true
		}
		s.appendLine(line, st)
	case st.LaserOff && st.Motion != gcode.MotionNone:
		// the laser goes off before the move runs, so the move is travel
		s.laserLine = ""
		s.trackIdleFeed(b, st)
		if !s.cutSeen {
			s.p.Preamble = append(s.p.Preamble, line)
			return
		}
		s.p.Dropped++
		off := stripMotion(b).String()
		if s.cur == nil {
			s.hold(off, entryRel)
			return
		}
		s.cur.Lines = append(s.cur.Lines, off)
		s.flush()
	case st.LaserOff:
		s.laserLine = ""
		if s.cur == nil {
			s.hold(line, entryRel)
			return
		}
		s.appendLine(line, st)
		s.flush()
	case st.Motion == gcode.MotionNone:
		if s.cur == nil {
			s.hold(line, entryRel)
			return
		}
		if len(s.cur.moves) > 0 {
			s.interior = true
		}
		s.cur.Lines = append(s.cur.Lines, line)
	case st.Idle(s.vm.LaserMode(), s.vm.LaserOn()):
		s.flush()
		s.trackIdleFeed(b, st)
		if !s.cutSeen {
			s.p.Preamble = append(s.p.Preamble, line)
			return
		}
		s.p.Dropped++
	default:
		if s.cur == nil {
			s.open(line, st, entryRel)
		}
		s.appendLine(line, st)
	}
}

// trackIdleFeed adopts the feed rate of an idle move for emitted travel.
func (s *segmenter) trackIdleFeed(b gcode.Block, st gcode.Step) {
	if ok, f := b.Arg('F'); ok && f > 0 {
		s.p.IdleFeed = f
	} else if st.Motion == gcode.MotionLinear && st.Feed > 0 {
		s.p.IdleFeed = st.Feed
	}
}

// stripMotion drops the words that describe a move, keeping the rest of b.
func stripMotion(b gcode.Block) gcode.Block {
	var res gcode.Block
	for _, w := range b {
		if w.IsAxis() || w.ModalGroup() == gcode.ModalGroupMotion {
			continue
		}
		switch w.W {
		case 'F', 'I', 'J', 'K', 'R':
			continue
		}
		res = append(res, w)
	}
	return res
}

// appendLine adds a line that belongs to the open segment, recording motion.
func (s *segmenter) appendLine(line string, st gcode.Step) {
	seg := s.cur
	if st.Motion == gcode.MotionNone {
		if len(seg.moves) > 0 && !st.LaserOff {
			s.interior = true
		}
		seg.Lines = append(seg.Lines, line)
		return
	}
	if s.interior || st.Extra || st.Motion != gcode.MotionLinear || st.Relative != seg.Relative {
		seg.Reversible = false
	}
	if len(seg.moves) == 0 {
		seg.Relative = st.Relative
	}
	seg.addMove(line, st)
}
