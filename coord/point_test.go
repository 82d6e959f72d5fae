package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint_Add(t *testing.T) {
	a := Point{X: 1, Y: 2}
	b := Point{X: 4, Y: 5}

	assert.Equal(t, Point{X: 5, Y: 7}, a.Add(b))
	assert.Equal(t, Point{X: -3, Y: -3}, a.Sub(b))
}

func TestPoint_Dist(t *testing.T) {
	a := Point{X: 1, Y: 2}
	b := Point{X: 4, Y: 5}
	assert.InEpsilon(t, 4.24264, a.Dist(b), .01)
	assert.Equal(t, 18.0, a.DistSq(b))
}

func TestPoint_Near(t *testing.T) {
	a := Point{X: 1, Y: 2}
	assert.True(t, a.Near(Point{X: 1.0000001, Y: 2}, 1e-6))
	assert.False(t, a.Near(Point{X: 1.1, Y: 2}, 1e-6))
}

func TestBounds_Extend(t *testing.T) {
	var b Bounds
	assert.True(t, b.Empty())

	b.Extend(Point{X: 5, Y: -1})
	b.Extend(Point{X: -2, Y: 3})
	assert.False(t, b.Empty())
	assert.Equal(t, Point{X: -2, Y: -1}, b.Min)
	assert.Equal(t, Point{X: 5, Y: 3}, b.Max)
	assert.Equal(t, 7.0, b.Width())
	assert.Equal(t, 4.0, b.Height())
}
