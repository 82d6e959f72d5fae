package raster

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testOptions() Options {
	return Options{
		PixelSize: 1,
		LineStep:  1,
		Pad:       2,
		WorkFeed:  100,
		IdleFeed:  500,
		LaserMax:  100,
		MinPower:  0,
		MaxPower:  100,
	}
}

func TestPowerMap(t *testing.T) {
	m := NewPowerMap(5, 50, 1000)
	assert.Equal(t, 500, m[0])
	assert.Equal(t, 50, m[254])
	assert.Equal(t, 0, m[255], "white never burns")
	for i := 1; i < 255; i++ {
		assert.LessOrEqual(t, m[i], m[i-1], "level %d", i)
	}
	assert.Equal(t, []int{500, 0}, m.Map([]uint8{0, 255}))
}

type batchRecorder struct {
	batches [][]string
	failAt  int
}

func (b *batchRecorder) ExecuteBatch(ctx context.Context, lines []string) error {
	b.batches = append(b.batches, lines)
	if b.failAt > 0 && len(b.batches) == b.failAt {
		return errors.New("rejected")
	}
	return nil
}

func TestEngraver_Engrave(t *testing.T) {
	row := []uint8{255, 0, 0, 255}
	white := []uint8{255, 255, 255, 255}

	rec := &batchRecorder{}
	e := NewEngraver(rec, testOptions(), zaptest.NewLogger(t))
	require.NoError(t, e.Engrave(context.Background(), [][]uint8{row, white, white, row}))

	assert.Equal(t, [][]string{
		{"G1 X-1 F500", "F100", "M3 S0", "G1 X2 S0", "G1 X2 S100", "G1 X2 S0", "M5"},
		{"G1 Y1 F500"},
		{"G1 Y2 F500"},
		{"F100", "M3 S0", "G1 X-2 S0", "G1 X-2 S100", "G1 X-2 S0", "M5"},
		{"G1 X1 F500"},
	}, rec.batches)
	assert.Zero(t, e.X())
}

func TestEngraver_OddSkipFlipsDirection(t *testing.T) {
	row := []uint8{0, 255, 255, 255}
	white := []uint8{255, 255, 255, 255}

	rec := &Recorder{}
	e := NewEngraver(rec, testOptions(), zaptest.NewLogger(t))
	require.NoError(t, e.Engrave(context.Background(), [][]uint8{row, white, row}))

	var cuts []string
	for _, l := range rec.Lines {
		if strings.HasSuffix(l, "S100") {
			cuts = append(cuts, l)
		}
	}
	// one skipped row flips the direction, so both cuts run the same way
	assert.Equal(t, []string{"G1 X1 S100", "G1 X1 S100"}, cuts)
	assert.Contains(t, rec.Lines, "G1 X-5 F500")
}

func TestEngraver_Init(t *testing.T) {
	opt := testOptions()
	opt.Init = DefaultOptions().Init
	rec := &batchRecorder{}
	e := NewEngraver(rec, opt, zaptest.NewLogger(t))
	require.NoError(t, e.Engrave(context.Background(), nil))
	assert.Equal(t, [][]string{{"$120=600", "$121=600", "G91"}}, rec.batches)
}

func TestEngraver_Error(t *testing.T) {
	rec := &batchRecorder{failAt: 1}
	e := NewEngraver(rec, testOptions(), zaptest.NewLogger(t))
	err := e.Engrave(context.Background(), [][]uint8{{0}, {0}})
	assert.ErrorContains(t, err, "row 0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewEngraver(&Recorder{}, testOptions(), nil).Engrave(ctx, [][]uint8{{0}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngraver_TestPattern(t *testing.T) {
	opt := testOptions()
	opt.Pad = 1
	opt.LaserMax = 1000
	grid := TestGrid{
		Width: 10, Height: 10,
		XSteps: 2, YSteps: 2,
		MinPower: 10, MaxPower: 20,
		MinSpeed: 100, MaxSpeed: 200,
	}
	assert.Equal(t, []int{100, 200}, grid.Powers(opt.LaserMax))
	assert.Equal(t, []float64{200, 100}, grid.Speeds())

	rec := &batchRecorder{}
	e := NewEngraver(rec, opt, zaptest.NewLogger(t))
	require.NoError(t, e.TestPattern(context.Background(), grid))

	var rows [][]string
	var ySteps []string
	for _, b := range rec.batches {
		if b[len(b)-1] == "M5" {
			rows = append(rows, b)
		} else {
			ySteps = append(ySteps, b...)
		}
	}
	require.Len(t, rows, 8)
	assert.Equal(t, []string{"F200", "M3 S0", "G1 X1 S0", "G1 X4 S100", "G1 X1 S0", "G1 X4 S200", "G1 X1 S0", "M5"}, rows[0])
	assert.Equal(t, []string{"F200", "M3 S0", "G1 X-1 S0", "G1 X-4 S200", "G1 X-1 S0", "G1 X-4 S100", "G1 X-1 S0", "M5"}, rows[1])
	assert.Equal(t, "F100", rows[4][0])
	assert.Contains(t, ySteps, "G1 Y2 F500")
	assert.Len(t, ySteps, 7)
	assert.Zero(t, e.X())

	assert.Error(t, e.TestPattern(context.Background(), TestGrid{}))
}

func TestEngraver_Row(t *testing.T) {
	e := NewEngraver(&Recorder{}, testOptions(), nil)
	assert.Nil(t, e.Row([]int{0, 0, 0}, 3, 1))
	assert.Zero(t, e.X())

	assert.Equal(t,
		[]string{"G1 X-2 F500", "F100", "M3 S0", "G1 X2 S0", "G1 X2 S100", "G1 X1 S50", "G1 X2 S0", "M5"},
		e.Row([]int{100, 100, 50}, 3, 1),
	)
	assert.Equal(t, 5.0, e.X())
}
