package coord

import (
	"math"
)

// Point is a position in the XY plane, in millimeters.
type Point struct{ X, Y float64 }

func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y
}

// Near reports whether b is within eps of p on both axes.
func (p Point) Near(b Point, eps float64) bool {
	return math.Abs(p.X-b.X) <= eps && math.Abs(p.Y-b.Y) <= eps
}

func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	return p
}

// DistSq returns the squared distance between p and b.
func (p Point) DistSq(b Point) float64 {
	dx, dy := b.X-p.X, b.Y-p.Y
	return dx*dx + dy*dy
}

// Dist returns the euclidean distance between p and b.
func (p Point) Dist(b Point) float64 {
	return math.Hypot(b.X-p.X, b.Y-p.Y)
}

// Bounds is an axis-aligned rectangle.
type Bounds struct {
	Min, Max Point
	set      bool
}

// Extend grows b to contain p.
func (b *Bounds) Extend(p Point) {
	if !b.set {
		b.Min, b.Max, b.set = p, p, true
		return
	}
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
}

// Empty reports whether no point was added.
func (b Bounds) Empty() bool { return !b.set }

func (b Bounds) Width() float64  { return b.Max.X - b.Min.X }
func (b Bounds) Height() float64 { return b.Max.Y - b.Min.Y }
