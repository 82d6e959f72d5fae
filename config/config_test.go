package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load("")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, "tarm", cfg.Serial.Driver)
	assert.Equal(t, 10, cfg.Stream.Window)
	assert.Equal(t, time.Second, cfg.Stream.PollInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.FrameTimeout)
	assert.Equal(t, -1, cfg.Optimize.Level)
	assert.Equal(t, 180*time.Second, cfg.Optimize.Budget)
	assert.Equal(t, 3000.0, cfg.Program.IdleFeed)
	assert.EqualValues(t, 10<<20, cfg.Program.MaxBytes)
	assert.Equal(t, []string{"$120=600", "$121=600", "G91"}, cfg.Raster.Init)
	assert.Equal(t, ":9091", cfg.HTTP.Addr)

	gc := cfg.Stream.Controller(zaptest.NewLogger(t), nil)
	assert.Equal(t, 10, gc.Window)
	assert.Equal(t, 500, cfg.Optimize.Options(nil).Attempts)
	assert.Equal(t, 0.1, cfg.Raster.Options().PixelSize)
}

func TestLoad_Sources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glaser.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  baud: 9600\nstream:\n  window: 4\noptimize:\n  seed: 7\n"), 0o644))
	t.Setenv("GLASER_STREAM_WINDOW", "1")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("seed", 0, "")
	fs.String("port", "", "")
	require.NoError(t, fs.Parse([]string{"--seed", "42"}))

	l := NewLoader()
	require.NoError(t, l.BindFlags(fs))
	cfg, err := l.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9600, cfg.Serial.Baud, "file")
	assert.Equal(t, 1, cfg.Stream.Window, "env beats file")
	assert.EqualValues(t, 42, cfg.Optimize.Seed, "flag beats file")
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port, "unset flag keeps default")

	data, err := l.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "window")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
