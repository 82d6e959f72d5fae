// Package config loads glaser settings from defaults, an optional YAML
// file, GLASER_* environment variables and command line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mastercactapus/glaser/machine"
	"github.com/mastercactapus/glaser/machine/grbl"
	"github.com/mastercactapus/glaser/optimize"
	"github.com/mastercactapus/glaser/program"
	"github.com/mastercactapus/glaser/raster"
)

type Config struct {
	Serial   SerialConfig   `mapstructure:"serial"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Optimize OptimizeConfig `mapstructure:"optimize"`
	Program  ProgramConfig  `mapstructure:"program"`
	Raster   RasterConfig   `mapstructure:"raster"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type SerialConfig struct {
	Port    string `mapstructure:"port"`
	Baud    int    `mapstructure:"baud"`
	Driver  string `mapstructure:"driver"`
	SPJSURL string `mapstructure:"spjs_url"`
}

type StreamConfig struct {
	Window       int           `mapstructure:"window"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	FrameTimeout time.Duration `mapstructure:"frame_timeout"`
	Tick         time.Duration `mapstructure:"tick"`
}

type OptimizeConfig struct {
	Level          int           `mapstructure:"level"`
	MaxRounds      int           `mapstructure:"max_rounds"`
	Budget         time.Duration `mapstructure:"budget"`
	Workers        int           `mapstructure:"workers"`
	Attempts       int           `mapstructure:"attempts"`
	WorkerAttempts int           `mapstructure:"worker_attempts"`
	Seed           int64         `mapstructure:"seed"`
}

type ProgramConfig struct {
	IdleFeed float64 `mapstructure:"idle_feed"`
	MaxLines int     `mapstructure:"max_lines"`
	MaxBytes int64   `mapstructure:"max_bytes"`
}

type RasterConfig struct {
	PixelSize float64  `mapstructure:"pixel_size"`
	LineStep  float64  `mapstructure:"line_step"`
	Pad       float64  `mapstructure:"pad"`
	WorkFeed  float64  `mapstructure:"work_feed"`
	IdleFeed  float64  `mapstructure:"idle_feed"`
	LaserMax  int      `mapstructure:"laser_max"`
	MinPower  float64  `mapstructure:"min_power"`
	MaxPower  float64  `mapstructure:"max_power"`
	Init      []string `mapstructure:"init"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	Dir  string `mapstructure:"dir"`
}

// Loader wraps a viper instance with glaser's defaults.
type Loader struct {
	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.driver", grbl.DriverTarm)
	v.SetDefault("serial.spjs_url", "ws://localhost:8989/ws")

	v.SetDefault("stream.window", 10)
	v.SetDefault("stream.poll_interval", "1s")
	v.SetDefault("stream.frame_timeout", "100ms")
	v.SetDefault("stream.tick", "1ms")

	v.SetDefault("optimize.level", -1)
	v.SetDefault("optimize.max_rounds", 20)
	v.SetDefault("optimize.budget", "180s")
	v.SetDefault("optimize.workers", 4)
	v.SetDefault("optimize.attempts", 500)
	v.SetDefault("optimize.worker_attempts", 200)
	v.SetDefault("optimize.seed", 0)

	v.SetDefault("program.idle_feed", program.DefaultIdleFeed)
	v.SetDefault("program.max_lines", 100000)
	v.SetDefault("program.max_bytes", 10<<20)

	r := raster.DefaultOptions()
	v.SetDefault("raster.pixel_size", r.PixelSize)
	v.SetDefault("raster.line_step", r.LineStep)
	v.SetDefault("raster.pad", r.Pad)
	v.SetDefault("raster.work_feed", r.WorkFeed)
	v.SetDefault("raster.idle_feed", r.IdleFeed)
	v.SetDefault("raster.laser_max", r.LaserMax)
	v.SetDefault("raster.min_power", r.MinPower)
	v.SetDefault("raster.max_power", r.MaxPower)
	v.SetDefault("raster.init", r.Init)

	v.SetDefault("http.addr", ":9091")
	v.SetDefault("http.dir", "./data")
}

func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GLASER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// flagKeys maps command line flags to settings.
var flagKeys = map[string]string{
	"port":     "serial.port",
	"baud":     "serial.baud",
	"driver":   "serial.driver",
	"spjs-url": "serial.spjs_url",
	"window":   "stream.window",
	"level":    "optimize.level",
	"budget":   "optimize.budget",
	"seed":     "optimize.seed",
	"addr":     "http.addr",
	"dir":      "http.dir",
}

// BindFlags binds every flag of fs that names a setting. Unknown flags
// are ignored.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the optional file at path and decodes the merged settings.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		l.v.SetConfigType("yaml")
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// YAML renders the effective settings.
func (l *Loader) YAML() ([]byte, error) {
	return yaml.Marshal(l.v.AllSettings())
}

// Controller returns the streaming settings for a grbl.Controller.
func (c StreamConfig) Controller(log *zap.Logger, obs machine.Observer) grbl.Config {
	return grbl.Config{
		Window:       c.Window,
		PollInterval: c.PollInterval,
		FrameTimeout: c.FrameTimeout,
		Tick:         c.Tick,
		Logger:       log,
		Observer:     obs,
	}
}

func (c OptimizeConfig) Options(log *zap.Logger) optimize.Options {
	return optimize.Options{
		Level:          c.Level,
		MaxRounds:      c.MaxRounds,
		Budget:         c.Budget,
		Workers:        c.Workers,
		WorkerAttempts: c.WorkerAttempts,
		Attempts:       c.Attempts,
		Seed:           c.Seed,
		Logger:         log,
	}
}

func (c RasterConfig) Options() raster.Options {
	return raster.Options{
		PixelSize: c.PixelSize,
		LineStep:  c.LineStep,
		Pad:       c.Pad,
		WorkFeed:  c.WorkFeed,
		IdleFeed:  c.IdleFeed,
		LaserMax:  c.LaserMax,
		MinPower:  c.MinPower,
		MaxPower:  c.MaxPower,
		Init:      c.Init,
	}
}
