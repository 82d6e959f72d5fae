package optimize

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/program"
)

func seg(reversible bool, pts ...coord.Point) *program.Segment {
	return &program.Segment{Points: pts, Reversible: reversible}
}

func randomSegments(n int, seed int64) []*program.Segment {
	rng := rand.New(rand.NewSource(seed))
	res := make([]*program.Segment, n)
	for i := range res {
		a := coord.Point{X: rng.Float64() * 100, Y: rng.Float64() * 100}
		b := a.Add(coord.Point{X: rng.Float64()*10 - 5, Y: rng.Float64()*10 - 5})
		res[i] = seg(i%5 != 0, a, b)
	}
	return res
}

// key renders a segment's points independent of direction.
func key(s *program.Segment) string {
	fwd := fmt.Sprint(s.Points)
	rev := make([]coord.Point, len(s.Points))
	for i, p := range s.Points {
		rev[len(rev)-1-i] = p
	}
	if r := fmt.Sprint(rev); r < fwd {
		return r
	}
	return fwd
}

func segmentSet(segs []*program.Segment) []string {
	res := make([]string, len(segs))
	for i, s := range segs {
		res[i] = key(s)
	}
	sort.Strings(res)
	return res
}

func TestSegments_Greedy(t *testing.T) {
	segs := []*program.Segment{
		seg(true, coord.Point{X: 0, Y: 0}, coord.Point{X: 10, Y: 0}),
		seg(true, coord.Point{X: 20, Y: 0}, coord.Point{X: 30, Y: 0}),
		seg(true, coord.Point{X: 10, Y: 0}, coord.Point{X: 10, Y: 10}),
	}
	res := Segments(context.Background(), segs, Options{Level: 0})

	assert.Equal(t, []program.Placement{{Index: 0}, {Index: 2}, {Index: 1}}, res.Order)
	assert.InDelta(t, 14.1421, res.Initial, 1e-4)
	assert.Equal(t, res.Initial, res.Final)
	assert.Equal(t, 0, res.Rounds)
}

func TestSegments_GreedyReverses(t *testing.T) {
	segs := []*program.Segment{
		seg(true, coord.Point{}, coord.Point{X: 10}),
		seg(true, coord.Point{X: 50}, coord.Point{X: 11}),
		seg(false, coord.Point{X: 60}, coord.Point{X: 12}),
	}
	res := Segments(context.Background(), segs, Options{Level: 0})

	// the fixed segment is only ever entered at its start
	assert.Equal(t, []program.Placement{{Index: 1, Reversed: true}, {Index: 2}}, res.Order[1:])
}

func TestSegments_GreedyTie(t *testing.T) {
	segs := []*program.Segment{
		seg(true, coord.Point{}, coord.Point{X: 10}),
		seg(true, coord.Point{X: 15}, coord.Point{X: 20}),
		seg(true, coord.Point{X: 5}, coord.Point{X: 0}),
	}
	res := Segments(context.Background(), segs, Options{Level: 0})
	assert.Equal(t, program.Placement{Index: 1}, res.Order[1])

	segs = []*program.Segment{
		seg(true, coord.Point{}, coord.Point{X: 10}),
		seg(true, coord.Point{X: 15}, coord.Point{X: 5}),
	}
	res = Segments(context.Background(), segs, Options{Level: 0})
	assert.Equal(t, program.Placement{Index: 1}, res.Order[1])
}

func testLevel(t *testing.T, level int) {
	segs := randomSegments(60, 7)
	var rounds []float64
	opt := Options{
		Level:  level,
		Seed:   42,
		Logger: zaptest.NewLogger(t),
		OnRound: func(_ int, travel float64) {
			rounds = append(rounds, travel)
		},
	}
	res := Segments(context.Background(), segs, opt)

	assert.Equal(t, level, res.Level)
	assert.LessOrEqual(t, res.Final, res.Initial)
	assert.Greater(t, res.Rounds, 0)
	for i := 1; i < len(rounds); i++ {
		assert.LessOrEqual(t, rounds[i], rounds[i-1])
	}

	require.Len(t, res.Order, len(segs))
	seen := make(map[int]bool)
	for _, p := range res.Order {
		assert.False(t, seen[p.Index], "segment placed twice")
		seen[p.Index] = true
		if p.Reversed {
			assert.True(t, segs[p.Index].Reversible)
		}
	}
	p := &program.Program{Segments: segs}
	assert.Equal(t, segmentSet(segs), segmentSet(p.Ordered(res.Order)))
	assert.InDelta(t, res.Final, p.Travel(res.Order), 1e-6)

	again := Segments(context.Background(), segs, Options{Level: level, Seed: 42})
	assert.Equal(t, res.Order, again.Order)
}

func TestSegments_Level1(t *testing.T) { testLevel(t, 1) }
func TestSegments_Level2(t *testing.T) { testLevel(t, 2) }

func TestSegments_Budget(t *testing.T) {
	segs := randomSegments(50, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Segments(ctx, segs, Options{Level: 2, Seed: 1})
	assert.False(t, res.TimedOut, "canceled by caller")
	assert.Equal(t, res.Initial, res.Final)
	assert.Len(t, res.Order, len(segs))

	res = Segments(context.Background(), segs, Options{Level: 2, Seed: 1, Budget: time.Nanosecond})
	assert.True(t, res.TimedOut)
	assert.LessOrEqual(t, res.Final, res.Initial)
	assert.Len(t, res.Order, len(segs))

	res = Segments(context.Background(), segs, Options{Level: 2, Seed: 1, MaxRounds: 2})
	assert.False(t, res.TimedOut)
}

func TestOptions_LevelZeroIsGreedy(t *testing.T) {
	segs := randomSegments(50, 3)
	res := Segments(context.Background(), segs, Options{Level: 0, Seed: 1})
	assert.Equal(t, 0, res.Level)
	assert.Zero(t, res.Rounds)
	assert.Equal(t, res.Initial, res.Final)
}

func TestOptions_AutoLevel(t *testing.T) {
	for n, level := range map[int]int{10: 2, BigInput: 2, BigInput + 1: 1, HugeInput + 1: 0} {
		opt := Options{Level: -1}
		opt.defaults(n)
		assert.Equal(t, level, opt.Level, "n=%d", n)
	}
	opt := Options{Level: 1}
	opt.defaults(HugeInput * 2)
	assert.Equal(t, 1, opt.Level)
	assert.Equal(t, 20, opt.MaxRounds)
	assert.Equal(t, 180*time.Second, opt.Budget)
}

func TestSegments_Empty(t *testing.T) {
	res := Segments(context.Background(), nil, Options{})
	assert.Empty(t, res.Order)
}
