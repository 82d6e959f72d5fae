// Package raster engraves grayscale rows back and forth in relative mode.
package raster

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/mastercactapus/glaser/gcode"
)

// Executor runs a batch of lines and waits until all are acknowledged.
type Executor interface {
	ExecuteBatch(ctx context.Context, lines []string) error
}

// Recorder is an Executor that only collects lines.
type Recorder struct {
	Lines []string
}

func (r *Recorder) ExecuteBatch(ctx context.Context, lines []string) error {
	r.Lines = append(r.Lines, lines...)
	return nil
}

// Options describe the machine and the engraving.
type Options struct {
	PixelSize float64
	LineStep  float64
	Pad       float64

	WorkFeed float64
	IdleFeed float64

	LaserMax int
	MinPower float64
	MaxPower float64

	Init []string
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		PixelSize: 0.1,
		LineStep:  0.1,
		Pad:       3,
		WorkFeed:  2500,
		IdleFeed:  2500,
		LaserMax:  1000,
		MinPower:  5,
		MaxPower:  50,
		Init:      []string{"$120=600", "$121=600", "G91"},
	}
}

// PowerMap turns a gray level into a laser power. Black burns hardest and
// white does not burn at all.
type PowerMap [256]int

// NewPowerMap spreads maxPct..minPct (percent of laserMax) over gray
// levels 0..254.
func NewPowerMap(minPct, maxPct float64, laserMax int) PowerMap {
	var m PowerMap
	hi := int(float64(laserMax) * maxPct / 100)
	lo := int(float64(laserMax) * minPct / 100)
	for i := 0; i < 255; i++ {
		m[i] = int(float64(hi) + float64(lo-hi)*float64(i)/254)
	}
	return m
}

// Map converts a row of gray levels.
func (m PowerMap) Map(row []uint8) []int {
	res := make([]int, len(row))
	for i, g := range row {
		res[i] = m[g]
	}
	return res
}

func empty(powers []int) bool {
	for _, p := range powers {
		if p != 0 {
			return false
		}
	}
	return true
}

func mm(v float64) string { return gcode.FormatFloat(v, 3) }

// Engraver streams rows to an Executor, tracking the X offset from the
// starting point.
type Engraver struct {
	exec Executor
	opt  Options
	log  *zap.Logger

	x float64
}

func NewEngraver(exec Executor, opt Options, log *zap.Logger) *Engraver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engraver{exec: exec, opt: opt, log: log}
}

// X is the current offset from the starting X position.
func (e *Engraver) X() float64 { return e.x }

// Row renders one row of powers spanning widthMM, burned left to right
// when dir is positive. Leading and trailing zero powers are trimmed and
// the cut is padded on both sides so the head is at speed while burning.
// An empty row renders nothing.
func (e *Engraver) Row(powers []int, widthMM float64, dir int) []string {
	data := powers
	if dir < 0 {
		data = make([]int, len(powers))
		for i, p := range powers {
			data[len(powers)-1-i] = p
		}
	}
	first, last := -1, -1
	for i, p := range data {
		if p != 0 {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	trimmed := data[first : last+1]
	px := e.opt.PixelSize
	trimMM := float64(len(trimmed)) * px
	fdir := float64(dir)

	var required float64
	if dir > 0 {
		required = float64(first)*px - e.opt.Pad
	} else {
		start := widthMM - float64(first)*px - trimMM
		required = start + trimMM + e.opt.Pad
	}

	var cmds []string
	delta := required - e.x
	if math.Abs(delta) > 0.01 {
		cmds = append(cmds, "G1 X"+mm(delta)+" F"+mm(e.opt.IdleFeed))
		e.x += delta
	}
	cmds = append(cmds, "F"+mm(e.opt.WorkFeed), "M3 S0")
	if e.opt.Pad > 0 {
		cmds = append(cmds, "G1 X"+mm(fdir*e.opt.Pad)+" S0")
	}
	for i := 0; i < len(trimmed); {
		s := trimmed[i]
		start := i
		for i < len(trimmed) && trimmed[i] == s {
			i++
		}
		cmds = append(cmds, fmt.Sprintf("G1 X%s S%d", mm(fdir*float64(i-start)*px), s))
	}
	if e.opt.Pad > 0 {
		cmds = append(cmds, "G1 X"+mm(fdir*e.opt.Pad)+" S0")
	}
	cmds = append(cmds, "M5")
	e.x += fdir * (2*e.opt.Pad + trimMM)
	return cmds
}

func (e *Engraver) yStep(ctx context.Context, dist float64) error {
	return e.exec.ExecuteBatch(ctx, []string{"G1 Y" + mm(dist) + " F" + mm(e.opt.IdleFeed)})
}

func (e *Engraver) begin(ctx context.Context) error {
	e.x = 0
	if len(e.opt.Init) == 0 {
		return nil
	}
	return e.exec.ExecuteBatch(ctx, e.opt.Init)
}

func (e *Engraver) finish(ctx context.Context) error {
	if math.Abs(e.x) <= 0.01 {
		return nil
	}
	err := e.exec.ExecuteBatch(ctx, []string{"G1 X" + mm(-e.x) + " F" + mm(e.opt.IdleFeed)})
	if err == nil {
		e.x = 0
	}
	return err
}

// Engrave burns rows of gray levels, first row first. Runs of empty rows
// are crossed with a single move.
func (e *Engraver) Engrave(ctx context.Context, rows [][]uint8) error {
	pm := NewPowerMap(e.opt.MinPower, e.opt.MaxPower, e.opt.LaserMax)
	if err := e.begin(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	dir := 1
	for y := 0; y < len(rows); {
		if err := ctx.Err(); err != nil {
			return err
		}
		powers := pm.Map(rows[y])
		width := float64(len(powers)) * e.opt.PixelSize
		if empty(powers) {
			count := 1
			for y+count < len(rows) && empty(pm.Map(rows[y+count])) {
				count++
			}
			if err := e.yStep(ctx, float64(count)*e.opt.LineStep); err != nil {
				return fmt.Errorf("skip rows %d-%d: %w", y, y+count-1, err)
			}
			if count%2 == 1 {
				dir = -dir
			}
			e.log.Debug("skipped empty rows", zap.Int("from", y), zap.Int("count", count))
			y += count
			continue
		}

		cmds := e.Row(powers, width, dir)
		if err := e.exec.ExecuteBatch(ctx, cmds); err != nil {
			return fmt.Errorf("row %d: %w", y, err)
		}
		e.log.Debug("row done", zap.Int("row", y), zap.Int("total", len(rows)), zap.Int("commands", len(cmds)))
		dir = -dir
		y++
		if y < len(rows) {
			if err := e.yStep(ctx, e.opt.LineStep); err != nil {
				return fmt.Errorf("row %d: %w", y, err)
			}
		}
	}
	return e.finish(ctx)
}

// TestGrid is a power by speed calibration pattern: power rises along X,
// speed falls along Y.
type TestGrid struct {
	Width, Height      float64
	XSteps, YSteps     int
	MinPower, MaxPower float64
	MinSpeed, MaxSpeed float64
}

// Fractions of a grid cell used by the square and the gap after it.
const (
	squareFraction = 0.8
	gapFraction    = 0.2
)

func linspace(a, b float64, n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		if n == 1 {
			res[i] = a
			continue
		}
		res[i] = a + (b-a)*float64(i)/float64(n-1)
	}
	return res
}

// Powers returns the power of each column.
func (g TestGrid) Powers(laserMax int) []int {
	res := make([]int, g.XSteps)
	for i, p := range linspace(g.MinPower, g.MaxPower, g.XSteps) {
		res[i] = int(math.Round(p / 100 * float64(laserMax)))
	}
	return res
}

// Speeds returns the feed of each row, fastest first.
func (g TestGrid) Speeds() []float64 {
	res := linspace(g.MaxSpeed, g.MinSpeed, g.YSteps)
	for i := range res {
		res[i] = math.Round(res[i])
	}
	return res
}

func (e *Engraver) testRow(powers []int, square, gap, width float64, dir int, feed float64) []string {
	fdir := float64(dir)
	// the pattern starts one pad in from the origin
	var required float64
	if dir < 0 {
		required = e.opt.Pad + width + e.opt.Pad
		rev := make([]int, len(powers))
		for i, p := range powers {
			rev[len(powers)-1-i] = p
		}
		powers = rev
	}

	var cmds []string
	delta := required - e.x
	if math.Abs(delta) > 0.01 {
		cmds = append(cmds, "G1 X"+mm(delta)+" F"+mm(e.opt.IdleFeed))
		e.x += delta
	}
	cmds = append(cmds, "F"+mm(feed), "M3 S0")
	if e.opt.Pad > 0 {
		cmds = append(cmds, "G1 X"+mm(fdir*e.opt.Pad)+" S0")
	}
	for i, s := range powers {
		cmds = append(cmds, fmt.Sprintf("G1 X%s S%d", mm(fdir*square), s))
		if i < len(powers)-1 {
			cmds = append(cmds, "G1 X"+mm(fdir*gap)+" S0")
		}
	}
	if e.opt.Pad > 0 {
		cmds = append(cmds, "G1 X"+mm(fdir*e.opt.Pad)+" S0")
	}
	cmds = append(cmds, "M5")
	e.x += fdir * (2*e.opt.Pad + width)
	return cmds
}

// TestPattern burns a calibration grid.
func (e *Engraver) TestPattern(ctx context.Context, g TestGrid) error {
	if g.XSteps < 1 || g.YSteps < 1 {
		return fmt.Errorf("test pattern: need at least one step per axis, got %dx%d", g.XSteps, g.YSteps)
	}
	cellX, cellY := g.Width/float64(g.XSteps), g.Height/float64(g.YSteps)
	squareX, gapX := squareFraction*cellX, gapFraction*cellX
	squareY, gapY := squareFraction*cellY, gapFraction*cellY
	lines := 2 * int(squareY/e.opt.LineStep/2)
	width := float64(g.XSteps)*squareX + float64(g.XSteps-1)*gapX

	powers := g.Powers(e.opt.LaserMax)
	speeds := g.Speeds()

	if err := e.begin(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	dir := 1
	for iy, feed := range speeds {
		for il := 0; il < lines; il++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.exec.ExecuteBatch(ctx, e.testRow(powers, squareX, gapX, width, dir, feed)); err != nil {
				return fmt.Errorf("test row %d/%d: %w", iy, il, err)
			}
			dir = -dir
			if il < lines-1 {
				if err := e.yStep(ctx, e.opt.LineStep); err != nil {
					return err
				}
			}
		}
		if iy < len(speeds)-1 {
			if err := e.yStep(ctx, squareY+gapY-float64(lines-1)*e.opt.LineStep); err != nil {
				return err
			}
		}
	}
	return e.finish(ctx)
}
