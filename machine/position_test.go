package machine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mastercactapus/glaser/coord"
)

func TestPosition_Sequence(t *testing.T) {
	p := NewPosition(time.Second)

	s := p.Home()
	assert.Equal(t, coord.Point{}, s.Absolute)

	s = p.MoveRelative(coord.Point{X: 10, Y: -5})
	assert.Equal(t, coord.Point{X: 10, Y: -5}, s.Absolute)
	assert.Equal(t, coord.Point{X: 10, Y: -5}, s.Relative)

	s = p.SetZero()
	assert.Equal(t, coord.Point{X: 10, Y: -5}, s.Offset)
	assert.Equal(t, coord.Point{}, s.Relative)

	s = p.MoveRelative(coord.Point{X: 5})
	assert.Equal(t, coord.Point{X: 15, Y: -5}, s.Absolute)
	assert.Equal(t, coord.Point{X: 5}, s.Relative)

	s = p.ReturnToZero()
	assert.Equal(t, coord.Point{X: 10, Y: -5}, s.Absolute)
	assert.Equal(t, coord.Point{}, s.Relative)

	s = p.SetOffset(coord.Point{X: 2, Y: 2})
	assert.Equal(t, coord.Point{X: 8, Y: -7}, s.Offset)
	assert.Equal(t, coord.Point{X: 2, Y: 2}, s.Relative)

	s = p.MoveAbsolute(coord.Point{X: 1, Y: 1})
	assert.Equal(t, coord.Point{X: 9, Y: -6}, s.Absolute)
}

func TestPosition_Consistency(t *testing.T) {
	p := NewPosition(time.Second)
	rng := rand.New(rand.NewSource(1))
	pt := func() coord.Point {
		return coord.Point{X: float64(rng.Intn(200) - 100), Y: float64(rng.Intn(200) - 100)}
	}
	for i := 0; i < 500; i++ {
		var s PositionState
		switch rng.Intn(6) {
		case 0:
			s = p.Home()
		case 1:
			s = p.SetZero()
		case 2:
			s = p.ReturnToZero()
		case 3:
			s = p.MoveRelative(pt())
		case 4:
			s = p.MoveAbsolute(pt())
		case 5:
			s = p.SetOffset(pt())
		}
		assert.Equal(t, s.Absolute.Sub(s.Offset), s.Relative, "step %d", i)
	}
}

func TestPosition_Status(t *testing.T) {
	now := time.Unix(100, 0)
	p := NewPosition(time.Second)
	p.now = func() time.Time { return now }

	p.ApplyWCO(coord.Point{X: 1, Y: 1})
	s := p.ApplyMPos(coord.Point{X: 5, Y: 5})
	assert.Equal(t, coord.Point{X: 4, Y: 4}, s.Relative)

	// a fresh local offset is not overwritten by a stale report
	p.SetZero()
	s = p.ApplyMPos(coord.Point{X: 6, Y: 5})
	assert.Equal(t, coord.Point{X: 6, Y: 5}, s.Absolute)
	assert.Equal(t, coord.Point{}, s.Relative)

	now = now.Add(time.Second)
	s = p.ApplyMPos(coord.Point{X: 6, Y: 5})
	assert.Equal(t, coord.Point{X: 1}, s.Relative)

	s = p.ApplyWCO(coord.Point{})
	assert.Equal(t, coord.Point{X: 6, Y: 5}, s.Relative)
}

func TestPosition_Apply(t *testing.T) {
	p := NewPosition(time.Second)

	_, ok := p.Apply("$H")
	assert.True(t, ok)

	s, ok := p.Apply("G91 G0 X10 Y-5")
	assert.True(t, ok)
	assert.Equal(t, Relative, s.Mode)
	assert.Equal(t, coord.Point{X: 10, Y: -5}, s.Absolute)

	s, _ = p.Apply("G92 X0 Y0")
	assert.Equal(t, coord.Point{X: 10, Y: -5}, s.Offset)
	assert.Equal(t, coord.Point{}, s.Relative)

	s, _ = p.Apply("X5")
	assert.Equal(t, coord.Point{X: 15, Y: -5}, s.Absolute)
	assert.Equal(t, coord.Point{X: 5}, s.Relative)

	s, _ = p.Apply("G90 X0 Y0")
	assert.Equal(t, Absolute, s.Mode)
	assert.Equal(t, coord.Point{X: 10, Y: -5}, s.Absolute)

	s, _ = p.Apply("G1 Y3")
	assert.Equal(t, coord.Point{X: 0, Y: 3}, s.Relative)

	// jogs do not change the modal distance mode
	s, _ = p.Apply("$J=G91 X1 F500")
	assert.Equal(t, coord.Point{X: 1, Y: 3}, s.Relative)
	assert.Equal(t, Absolute, s.Mode)

	_, ok = p.Apply("M3 S100")
	assert.False(t, ok)
	_, ok = p.Apply("$X")
	assert.False(t, ok)
}
