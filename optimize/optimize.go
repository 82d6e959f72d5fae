// Package optimize orders cutting segments to reduce idle travel.
package optimize

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mastercactapus/glaser/coord"
	"github.com/mastercactapus/glaser/program"
)

// Segment counts above which cheaper levels are picked automatically.
const (
	HugeInput = 10000
	BigInput  = 3000
)

// An accepted mutation must shorten travel by more than this.
const improveEpsilon = 1e-9

// Options tunes the search. Non-positive counts and durations select
// defaults.
type Options struct {
	// Level is 0 (greedy only), 1 (parallel trials) or 2 (iterated local
	// search). Any other value picks one from the input size.
	Level int

	MaxRounds int
	Budget    time.Duration

	// Workers and WorkerAttempts apply to level 1, Attempts to level 2.
	Workers        int
	WorkerAttempts int
	Attempts       int

	// Seed makes the search repeatable; zero seeds from the clock.
	Seed int64

	Logger *zap.Logger

	// OnRound is called after every round with the best travel so far.
	OnRound func(round int, travel float64)
}

// Result of an optimization.
type Result struct {
	Order    []program.Placement
	Level    int
	Initial  float64
	Final    float64
	Rounds   int
	TimedOut bool
	Elapsed  time.Duration
}

func (o *Options) defaults(n int) {
	if o.Level < 0 || o.Level > 2 {
		switch {
		case n > HugeInput:
			o.Level = 0
		case n > BigInput:
			o.Level = 1
		default:
			o.Level = 2
		}
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = 20
	}
	if o.Budget <= 0 {
		o.Budget = 180 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.WorkerAttempts <= 0 {
		o.WorkerAttempts = 200
	}
	if o.Attempts <= 0 {
		o.Attempts = 500
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type endpoints struct {
	start, end coord.Point
	reversible bool
}

type tour struct {
	ends  []endpoints
	order []program.Placement
}

func (t *tour) start(p program.Placement) coord.Point {
	if p.Reversed {
		return t.ends[p.Index].end
	}
	return t.ends[p.Index].start
}

func (t *tour) end(p program.Placement) coord.Point {
	if p.Reversed {
		return t.ends[p.Index].start
	}
	return t.ends[p.Index].end
}

func (t *tour) cost(order []program.Placement) float64 {
	var total float64
	for i := 1; i < len(order); i++ {
		total += t.end(order[i-1]).Dist(t.start(order[i]))
	}
	return total
}

// Program optimizes the segments of p.
func Program(ctx context.Context, p *program.Program, opt Options) Result {
	return Segments(ctx, p.Segments, opt)
}

// Segments finds an ordering and orientation of segs with low idle travel.
// The result is never worse than the greedy baseline.
func Segments(ctx context.Context, segs []*program.Segment, opt Options) Result {
	began := time.Now()
	opt.defaults(len(segs))
	res := Result{Level: opt.Level}
	if len(segs) == 0 {
		return res
	}

	t := &tour{ends: make([]endpoints, len(segs))}
	for i, s := range segs {
		t.ends[i] = endpoints{start: s.Start(), end: s.End(), reversible: s.Reversible}
	}

	t.order = t.greedy()
	res.Initial = t.cost(t.order)
	res.Final = res.Initial
	log := opt.Logger.With(zap.Int("segments", len(segs)), zap.Int("level", opt.Level))
	log.Debug("greedy order", zap.Float64("travel", res.Initial))

	if opt.Level > 0 && len(segs) >= 3 {
		ctx, cancel := context.WithTimeout(ctx, opt.Budget)
		defer cancel()
		rng := rand.New(rand.NewSource(opt.Seed))

		improved := true
		for res.Rounds < opt.MaxRounds && improved {
			if ctx.Err() != nil {
				break
			}
			res.Rounds++
			var order []program.Placement
			var score float64
			if opt.Level == 1 {
				order, score, improved = t.parallelRound(ctx, rng, res.Final, opt)
			} else {
				order, score, improved = t.localRound(ctx, rng, t.order, res.Final, opt.Attempts)
			}
			if improved {
				t.order, res.Final = order, score
			}
			log.Debug("round", zap.Int("round", res.Rounds), zap.Float64("travel", res.Final), zap.Bool("improved", improved))
			if opt.OnRound != nil {
				opt.OnRound(res.Rounds, res.Final)
			}
		}
		res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
	}

	res.Order = t.order
	res.Elapsed = time.Since(began)
	log.Info("optimized",
		zap.Float64("initial", res.Initial),
		zap.Float64("final", res.Final),
		zap.Int("rounds", res.Rounds),
		zap.Bool("timedOut", res.TimedOut),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}

// greedy builds the order from the first segment by repeatedly appending
// the unused segment with the nearest endpoint. Ties keep scan order and
// prefer the start point.
func (t *tour) greedy() []program.Placement {
	n := len(t.ends)
	order := make([]program.Placement, 0, n)
	order = append(order, program.Placement{Index: 0})

	unused := make([]int, 0, n-1)
	for i := 1; i < n; i++ {
		unused = append(unused, i)
	}
	for len(unused) > 0 {
		tail := t.end(order[len(order)-1])
		best, bestRev, bestD := 0, false, -1.0
		for k, idx := range unused {
			e := t.ends[idx]
			if d := tail.DistSq(e.start); bestD < 0 || d < bestD {
				best, bestRev, bestD = k, false, d
			}
			if !e.reversible {
				continue
			}
			if d := tail.DistSq(e.end); d < bestD {
				best, bestRev, bestD = k, true, d
			}
		}
		order = append(order, program.Placement{Index: unused[best], Reversed: bestRev})
		unused = append(unused[:best], unused[best+1:]...)
	}
	return order
}

// mutate applies a random swap (70%) or subrange reversal to order in place
// and re-orients the segments touching the changed range.
func (t *tour) mutate(rng *rand.Rand, order []program.Placement) {
	n := len(order)
	i := rng.Intn(n - 1)
	j := i + 1 + rng.Intn(n-1-i)
	if rng.Float64() < 0.7 {
		order[i], order[j] = order[j], order[i]
	} else {
		for a, b := i, j; a < b; a, b = a+1, b-1 {
			order[a], order[b] = order[b], order[a]
		}
	}

	lo, hi := i, j+1
	if lo < 1 {
		lo = 1
	}
	if hi > n-1 {
		hi = n - 1
	}
	for k := lo; k <= hi; k++ {
		p := order[k]
		if !t.ends[p.Index].reversible {
			continue
		}
		prev := t.end(order[k-1])
		if prev.Dist(t.end(p)) < prev.Dist(t.start(p)) {
			order[k].Reversed = !p.Reversed
		}
	}
}

// localRound mutates a copy of order up to attempts times, keeping every
// mutation that shortens travel.
func (t *tour) localRound(ctx context.Context, rng *rand.Rand, order []program.Placement, score float64, attempts int) ([]program.Placement, float64, bool) {
	cur := append([]program.Placement(nil), order...)
	next := make([]program.Placement, len(cur))
	var improved bool
	for a := 0; a < attempts; a++ {
		if ctx.Err() != nil {
			break
		}
		copy(next, cur)
		t.mutate(rng, next)
		if s := t.cost(next); s < score-improveEpsilon {
			cur, next = next, cur
			score = s
			improved = true
		}
	}
	return cur, score, improved
}

type trial struct {
	order    []program.Placement
	score    float64
	improved bool
}

// parallelRound runs independent trials on private copies of the current
// order and keeps the best improvement. Each trial stops at its first
// improvement.
func (t *tour) parallelRound(ctx context.Context, rng *rand.Rand, score float64, opt Options) ([]program.Placement, float64, bool) {
	trials := make([]trial, opt.Workers)
	seeds := make([]int64, opt.Workers)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := range trials {
		w := w
		g.Go(func() error {
			local := rand.New(rand.NewSource(seeds[w]))
			cur := append([]program.Placement(nil), t.order...)
			next := make([]program.Placement, len(cur))
			tr := trial{order: cur, score: score}
			for a := 0; a < opt.WorkerAttempts; a++ {
				if gctx.Err() != nil {
					break
				}
				copy(next, cur)
				t.mutate(local, next)
				if s := t.cost(next); s < score-improveEpsilon {
					tr = trial{order: next, score: s, improved: true}
					break
				}
			}
			trials[w] = tr
			return nil
		})
	}
	_ = g.Wait()

	best := trial{order: t.order, score: score}
	for _, tr := range trials {
		if tr.improved && tr.score < best.score {
			best = tr
		}
	}
	return best.order, best.score, best.improved
}
