package machine

import (
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/gcode"
)

// CoordMode is the distance mode used for locally issued moves.
type CoordMode int

const (
	Absolute CoordMode = iota
	Relative
)

func (m CoordMode) String() string {
	if m == Relative {
		return "relative"
	}
	return "absolute"
}

// PositionState is a snapshot of a Position.
type PositionState struct {
	Absolute coord.Point
	Relative coord.Point
	Offset   coord.Point
	Mode     CoordMode

	// OffsetChanged is when the offset was last changed by a local command.
	OffsetChanged time.Time
}

// Position tracks machine and work position from commands that are sent
// and status frames that are received. Status values always win.
type Position struct {
	mx sync.Mutex
	s  PositionState

	poll time.Duration
	now  func() time.Time
}

// NewPosition creates a Position. Relative position is not derived from
// reported machine positions until poll has passed since the last local
// offset change.
func NewPosition(poll time.Duration) *Position {
	return &Position{poll: poll, now: time.Now}
}

func (p *Position) State() PositionState {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.s
}

// Reset clears everything, as after a controller reset.
func (p *Position) Reset() {
	p.mx.Lock()
	p.s = PositionState{}
	p.mx.Unlock()
}

func (p *Position) update(fn func(s *PositionState)) PositionState {
	p.mx.Lock()
	defer p.mx.Unlock()
	fn(&p.s)
	return p.s
}

// Home resets all position and offset state to the origin.
func (p *Position) Home() PositionState {
	return p.update(func(s *PositionState) {
		s.Absolute, s.Relative, s.Offset = coord.Point{}, coord.Point{}, coord.Point{}
		s.OffsetChanged = p.now()
	})
}

// SetZero makes the current position the work origin.
func (p *Position) SetZero() PositionState {
	return p.update(func(s *PositionState) {
		s.Offset = s.Absolute
		s.Relative = coord.Point{}
		s.OffsetChanged = p.now()
	})
}

// ReturnToZero moves to the work origin.
func (p *Position) ReturnToZero() PositionState {
	return p.update(func(s *PositionState) {
		s.Absolute = s.Offset
		s.Relative = coord.Point{}
	})
}

// SetOffset declares the current position to be at work coordinates at.
func (p *Position) SetOffset(at coord.Point) PositionState {
	return p.update(func(s *PositionState) {
		s.Offset = s.Absolute.Sub(at)
		s.Relative = at
		s.OffsetChanged = p.now()
	})
}

func (p *Position) MoveRelative(d coord.Point) PositionState {
	return p.update(func(s *PositionState) {
		s.Absolute = s.Absolute.Add(d)
		s.Relative = s.Relative.Add(d)
	})
}

// MoveAbsolute moves to the work coordinates to.
func (p *Position) MoveAbsolute(to coord.Point) PositionState {
	return p.update(func(s *PositionState) {
		s.Relative = to
		s.Absolute = to.Add(s.Offset)
	})
}

func (p *Position) SetMode(m CoordMode) {
	p.update(func(s *PositionState) { s.Mode = m })
}

// ApplyMPos records a reported machine position.
func (p *Position) ApplyMPos(mpos coord.Point) PositionState {
	return p.update(func(s *PositionState) {
		s.Absolute = mpos
		if p.now().Sub(s.OffsetChanged) >= p.poll {
			s.Relative = s.Absolute.Sub(s.Offset)
		}
	})
}

// ApplyWCO records a reported work coordinate offset.
func (p *Position) ApplyWCO(wco coord.Point) PositionState {
	return p.update(func(s *PositionState) {
		s.Offset = wco
		s.Relative = s.Absolute.Sub(s.Offset)
	})
}

// Apply predicts the effect of a line sent to the controller. It reports
// false when the line does not move anything.
func (p *Position) Apply(line string) (PositionState, bool) {
	line = strings.TrimSpace(strings.ToUpper(line))
	switch {
	case line == "$H":
		return p.Home(), true
	case strings.HasPrefix(line, "$J="):
		// jogs carry their own distance mode
		b, _ := gcode.ParseLine(line[3:])
		return p.applyMove(b, b.Has('G', 91), b.Has('G', 53))
	case gcode.IsCommand(line):
		return p.State(), false
	}

	b, _ := gcode.ParseLine(line)
	if len(b) == 0 {
		return p.State(), false
	}
	switch {
	case b.Has('G', 90):
		p.SetMode(Absolute)
	case b.Has('G', 91):
		p.SetMode(Relative)
	}
	if b.Has('G', 92) {
		cur := p.State().Relative
		if ok, x := b.Arg('X'); ok {
			cur.X = x
		}
		if ok, y := b.Arg('Y'); ok {
			cur.Y = y
		}
		return p.SetOffset(cur), true
	}
	if b.Has('G', 4) || b.Has('G', 10) || b.Has('G', 28) || b.Has('G', 30) {
		return p.State(), false
	}
	return p.applyMove(b, p.State().Mode == Relative, b.Has('G', 53))
}

func (p *Position) applyMove(b gcode.Block, relative, machineCoords bool) (PositionState, bool) {
	okX, x := b.Arg('X')
	okY, y := b.Arg('Y')
	if !okX && !okY {
		return p.State(), false
	}
	if relative {
		return p.MoveRelative(coord.Point{X: x, Y: y}), true
	}

	s := p.State()
	to := s.Relative
	if machineCoords {
		to = s.Absolute
	}
	if okX {
		to.X = x
	}
	if okY {
		to.Y = y
	}
	if machineCoords {
		to = to.Sub(s.Offset)
	}
	return p.MoveAbsolute(to), true
}
