package program

import (
	"strings"

	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/gcode"
)

// Placement is one entry of an ordering: the segment index and whether it
// is cut end to start.
type Placement struct {
	Index    int
	Reversed bool
}

// travelEpsilon is the distance below which no travel move is emitted.
const travelEpsilon = 1e-6

// Identity returns the input order.
func (p *Program) Identity() []Placement {
	res := make([]Placement, len(p.Segments))
	for i := range res {
		res[i].Index = i
	}
	return res
}

// Ordered resolves placements into segments, reversing where requested.
func (p *Program) Ordered(order []Placement) []*Segment {
	res := make([]*Segment, len(order))
	for i, pl := range order {
		seg := p.Segments[pl.Index]
		if pl.Reversed {
			seg = seg.Reversed()
		}
		res[i] = seg
	}
	return res
}

// Travel returns the summed idle distance between consecutive placements.
func (p *Program) Travel(order []Placement) float64 {
	var total float64
	segs := p.Ordered(order)
	for i := 1; i < len(segs); i++ {
		total += segs[i-1].End().Dist(segs[i].Start())
	}
	return total
}

type emitter struct {
	p   *Program
	out []string
	pos coord.Point
	rel bool

	// laser state and modal feed as left by the lines emitted so far
	laserOn bool
	feed    float64
}

func (e *emitter) setMode(rel bool) {
	if rel == e.rel {
		return
	}
	e.rel = rel
	if rel {
		e.out = append(e.out, "G91")
	} else {
		e.out = append(e.out, "G90")
	}
}

func (e *emitter) travel(to coord.Point) {
	target := to
	if e.rel {
		target = to.Sub(e.pos)
	}
	xy := "X" + gcode.FormatFloat(target.X, 4) + " Y" + gcode.FormatFloat(target.Y, 4)
	if !e.p.LaserMode {
		e.out = append(e.out, "G0 "+xy)
		return
	}
	e.out = append(e.out, "M5", "G1 F"+gcode.FormatFloat(e.p.IdleFeed, 1)+" "+xy)
	e.laserOn = false
	e.feed = e.p.IdleFeed
}

// enter restores the laser and feed a segment expects to inherit.
func (e *emitter) enter(seg *Segment) {
	if e.p.LaserMode && !seg.OwnLaserOn && seg.Resume != "" && !e.laserOn {
		e.emit(seg.Resume)
	}
	if seg.Feed > 0 && !seg.FirstFeed && seg.Feed != e.feed {
		e.emit("F" + gcode.FormatFloat(seg.Feed, 1))
	}
}

func (e *emitter) emit(line string) {
	e.out = append(e.out, line)
	e.track(line)
}

// track follows the modal state changed by verbatim lines.
func (e *emitter) track(line string) {
	b, _ := gcode.ParseLine(line)
	switch {
	case b.Has('G', 90):
		e.rel = false
	case b.Has('G', 91):
		e.rel = true
	}
	switch {
	case b.Has('M', 5):
		e.laserOn = false
	case b.Has('M', 3), b.Has('M', 4):
		e.laserOn = true
	}
	if ok, f := b.Arg('F'); ok {
		e.feed = f
	}
}

// Emit renders the preamble, the segments in the given order with travel
// inserted between them, and the epilogue. A segment that inherited a lit
// laser is re-armed when the output before it left the laser off.
func (p *Program) Emit(order []Placement) []string {
	e := &emitter{
		p:   p,
		pos: p.Start,
		rel: p.StartRelative,
	}
	for _, l := range p.Preamble {
		e.emit(l)
	}

	for _, seg := range p.Ordered(order) {
		if !e.pos.Near(seg.Start(), travelEpsilon) {
			e.travel(seg.Start())
		}
		e.enter(seg)
		e.setMode(seg.EntryRelative)
		for _, l := range seg.Lines {
			e.emit(l)
		}
		e.pos = seg.End()
	}

	if len(p.Segments) > 0 {
		e.setMode(p.EndRelative)
	}
	e.out = append(e.out, p.Epilogue...)
	return e.out
}

// Text joins lines into newline-terminated program text.
func Text(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
