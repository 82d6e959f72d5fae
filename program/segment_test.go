package program

import (
	"testing"

	"github.com/mastercactapus/glaser/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment_Reversed(t *testing.T) {
	p := Parse([]string{"M3 S500", "G1 X10", "G1 Y10 F800", "M5"}, Options{})
	require.Len(t, p.Segments, 1)
	seg := p.Segments[0]
	require.True(t, seg.Reversible)

	r := seg.Reversed()
	assert.Equal(t, []coord.Point{{X: 10, Y: 10}, {X: 10}, {}}, r.Points)
	assert.Equal(t, []string{"M3 S500", "G1 X10 Y0 F800 S500", "G1 X0 Y0", "M5"}, r.Lines)

	// original untouched
	assert.Equal(t, []string{"M3 S500", "G1 X10", "G1 Y10 F800", "M5"}, seg.Lines)
}

func TestSegment_ReversedRelative(t *testing.T) {
	p := Parse([]string{"G91", "M3 S100", "G1 X10 F600", "G1 Y5", "M5"}, Options{})
	require.Len(t, p.Segments, 1)
	seg := p.Segments[0]
	assert.True(t, seg.EntryRelative)
	require.True(t, seg.Reversible)

	r := seg.Reversed()
	assert.Equal(t, []string{"M3 S100", "G1 X0 Y-5 F600 S100", "G1 X-10 Y0", "M5"}, r.Lines)
	assert.Equal(t, coord.Point{X: 10, Y: 5}, r.Start())
	assert.Equal(t, coord.Point{}, r.End())

	rr := r.Reversed()
	assert.Equal(t, seg.Points, rr.Points)
}

func TestSegment_NotReversible(t *testing.T) {
	p := Parse([]string{
		"M3 S100", "G1 X10", "S200", "G1 X20", "M5",
		"M3 S100", "G2 X30 Y0 I5 J0", "M5",
		"M3 S100", "G1 X10 Z1", "M5",
	}, Options{})
	require.Len(t, p.Segments, 3)
	for _, seg := range p.Segments {
		assert.False(t, seg.Reversible)
		assert.Same(t, seg, seg.Reversed())
	}
}
