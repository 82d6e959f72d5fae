package program

import (
	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/gcode"
)

type move struct {
	line        int
	from, to    coord.Point
	feed, power float64
}

// A Segment is one uninterrupted cutting run: the points the tool passes
// through and the lines that drive it there.
type Segment struct {
	Points []coord.Point
	Lines  []string

	// Reversible is set when the run can be cut end to start without
	// changing what it produces.
	Reversible bool

	// EntryRelative is the distance mode in effect before the first line,
	// Relative the mode used by the motion lines.
	EntryRelative bool
	Relative      bool

	// OwnLaserOn is set when the segment turns the laser on itself. Resume
	// holds the laser-on line that was active when it opened otherwise.
	OwnLaserOn bool
	Resume     string

	// Feed is the feed rate in effect for the first cutting move, and
	// FirstFeed is set when that move states it explicitly.
	Feed      float64
	FirstFeed bool

	moves  []move
	sWords bool
}

func (s *Segment) Start() coord.Point { return s.Points[0] }
func (s *Segment) End() coord.Point   { return s.Points[len(s.Points)-1] }

// Length returns the cut distance along the segment.
func (s *Segment) Length() float64 {
	var l float64
	for i := 1; i < len(s.Points); i++ {
		l += s.Points[i-1].Dist(s.Points[i])
	}
	return l
}

func (s *Segment) addMove(line string, st gcode.Step) {
	if len(s.moves) == 0 {
		s.Feed = st.Feed
		s.FirstFeed, _ = st.Block.Arg('F')
	}
	if ok, _ := st.Block.Arg('S'); ok {
		s.sWords = true
	}
	s.Lines = append(s.Lines, line)
	s.Points = append(s.Points, st.To)
	s.moves = append(s.moves, move{
		line:  len(s.Lines) - 1,
		from:  st.From,
		to:    st.To,
		feed:  st.Feed,
		power: st.Power,
	})
}

// Reversed returns a copy of s cut in the opposite direction. Lines before
// the first and after the last motion stay where they are; the motion lines
// are re-rendered in reverse order. Non-reversible segments are returned as is.
func (s *Segment) Reversed() *Segment {
	if !s.Reversible {
		return s
	}
	r := *s
	r.Points = make([]coord.Point, len(s.Points))
	for i, p := range s.Points {
		r.Points[len(s.Points)-1-i] = p
	}
	if len(s.moves) == 0 {
		return &r
	}

	first, last := s.moves[0].line, s.moves[len(s.moves)-1].line
	r.Lines = make([]string, 0, len(s.Lines))
	r.Lines = append(r.Lines, s.Lines[:first]...)
	r.moves = make([]move, 0, len(s.moves))

	var feed, power float64
	for i := len(s.moves) - 1; i >= 0; i-- {
		m := s.moves[i]
		b := gcode.Block{{W: 'G', Arg: 1}}
		if s.Relative {
			d := m.from.Sub(m.to)
			b = append(b, gcode.Word{W: 'X', Arg: d.X}, gcode.Word{W: 'Y', Arg: d.Y})
		} else {
			b = append(b, gcode.Word{W: 'X', Arg: m.from.X}, gcode.Word{W: 'Y', Arg: m.from.Y})
		}
		isFirst := i == len(s.moves)-1
		if m.feed != 0 && (isFirst || m.feed != feed) {
			b = append(b, gcode.Word{W: 'F', Arg: m.feed})
		}
		if (s.sWords || m.power != 0) && (isFirst || m.power != power) {
			b = append(b, gcode.Word{W: 'S', Arg: m.power})
		}
		feed, power = m.feed, m.power
		r.Lines = append(r.Lines, b.String())
		r.moves = append(r.moves, move{line: len(r.Lines) - 1, from: m.to, to: m.from, feed: m.feed, power: m.power})
	}
	r.Lines = append(r.Lines, s.Lines[last+1:]...)
	r.Feed = s.moves[len(s.moves)-1].feed
	r.FirstFeed = r.Feed != 0
	return &r
}
