package main

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mastercactapus/glaser/config"
)

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.NewLoader().Load("")
	require.NoError(t, err)
	return cfg
}

func TestReadLines(t *testing.T) {
	cfg := testConfig(t).Program
	lines, err := readLines(strings.NewReader("G0 X1 (move)\n\n; note\nM5\n"), 20, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"G0 X1", "M5"}, lines)

	cfg.MaxBytes = 10
	_, err = readLines(strings.NewReader(""), 11, cfg)
	assert.True(t, errors.Is(err, errFileTooLarge))
}

func TestParseSize(t *testing.T) {
	w, h, err := parseSize("40x20.5")
	require.NoError(t, err)
	assert.Equal(t, 40.0, w)
	assert.Equal(t, 20.5, h)

	_, _, err = parseSize("40")
	assert.Error(t, err)
	_, _, err = parseSize("ax1")
	assert.Error(t, err)
}

func TestInfo(t *testing.T) {
	r := info([]string{"G0 X5 Y5", "M3 S100", "G1 X10 F500", "M5", "G1 X0 Y0 F3000", "M3", "G1 X5 Y0"}, testConfig(t))
	assert.Equal(t, 7, r.Lines)
	assert.Equal(t, 2, r.Segments)
	assert.True(t, r.LaserMode)
	assert.True(t, r.IdleG1)
	assert.Equal(t, 10.0, r.MaxX)
	assert.Equal(t, 100.0, r.MaxPower)
	assert.Equal(t, 500.0, r.MaxWorkFeed)
	assert.Equal(t, 3000.0, r.MaxIdleFeed)
}

func TestTransformLines(t *testing.T) {
	fs := pflag.NewFlagSet("transform", pflag.ContinueOnError)
	transformCmd.flags(fs)
	require.NoError(t, fs.Parse([]string{"--scale", "20x20", "--power", "1000", "--fix-idle"}))

	res, err := transformLines([]string{"M3 S500", "G1 X10 Y5 F100", "M5", "G1 X0 Y0 F3000"}, fs, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"M3 S1000", "G1 X20 Y10 F100", "M5", "G0 X0 Y0 F3000"}, res)
}

func TestGrayRows(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(0, 1, color.Gray{Y: 255})
	img.SetGray(1, 1, color.Gray{Y: 128})

	assert.Equal(t, [][]uint8{{255, 128}, {0, 0}}, grayRows(img))
}
