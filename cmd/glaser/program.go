package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mastercactapus/glaser/config"
	"github.com/mastercactapus/glaser/gcode"
	"github.com/mastercactapus/glaser/optimize"
	"github.com/mastercactapus/glaser/program"
	"github.com/mastercactapus/glaser/transform"
)

var errFileTooLarge = errors.New("file too large")

func readLines(r io.Reader, size int64, cfg config.ProgramConfig) ([]string, error) {
	if cfg.MaxBytes > 0 && size > cfg.MaxBytes {
		return nil, fmt.Errorf("%d bytes exceeds limit of %d: %w", size, cfg.MaxBytes, errFileTooLarge)
	}
	return gcode.Clean(r, cfg.MaxLines)
}

func loadLines(path string, cfg config.ProgramConfig) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	lines, err := readLines(f, st.Size(), cfg)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return lines, nil
}

// prepare segments lines and, when asked, reorders them for less travel.
func prepare(ctx context.Context, log *zap.Logger, lines []string, cfg *config.Config, optimizeIt bool) ([]string, *optimize.Result) {
	p := program.Parse(lines, program.Options{IdleFeed: cfg.Program.IdleFeed})
	for _, w := range p.Warnings {
		log.Warn("skipped input", zap.Error(w))
	}
	if !optimizeIt {
		return p.Emit(p.Identity()), nil
	}
	res := optimize.Program(ctx, p, cfg.Optimize.Options(log))
	if res.Order == nil {
		return p.Emit(p.Identity()), &res
	}
	return p.Emit(res.Order), &res
}

func writeOutput(args []string, idx int, lines []string) error {
	out := io.Writer(os.Stdout)
	if len(args) > idx {
		f, err := os.Create(args[idx])
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err := io.WriteString(out, program.Text(lines))
	return err
}

type optimizeReport struct {
	Segments int     `yaml:"segments"`
	Level    int     `yaml:"level"`
	Initial  float64 `yaml:"initial_travel"`
	Final    float64 `yaml:"final_travel"`
	Rounds   int     `yaml:"rounds"`
	TimedOut bool    `yaml:"timed_out"`
	Elapsed  string  `yaml:"elapsed"`
}

var optimizeCmd = command{
	usage: "optimize <in> [out]: reorder cutting segments to reduce idle travel",
	flags: func(fs *pflag.FlagSet) {
		optimizeFlags(fs)
		fs.Bool("report", false, "Print a YAML report to stderr.")
	},
	run: func(ctx context.Context, e *env, fs *pflag.FlagSet) error {
		if fs.NArg() < 1 {
			return errors.New("missing input file")
		}
		lines, err := loadLines(fs.Arg(0), e.cfg.Program)
		if err != nil {
			return err
		}
		out, res := prepare(ctx, e.log, lines, e.cfg, true)
		if report, _ := fs.GetBool("report"); report {
			data, err := yaml.Marshal(optimizeReport{
				Segments: len(res.Order),
				Level:    res.Level,
				Initial:  res.Initial,
				Final:    res.Final,
				Rounds:   res.Rounds,
				TimedOut: res.TimedOut,
				Elapsed:  res.Elapsed.String(),
			})
			if err != nil {
				return err
			}
			os.Stderr.Write(data)
		}
		return writeOutput(fs.Args(), 1, out)
	},
}

type infoReport struct {
	Lines       int     `yaml:"lines"`
	Segments    int     `yaml:"segments"`
	Reversible  int     `yaml:"reversible"`
	LaserMode   bool    `yaml:"laser_mode"`
	MinX        float64 `yaml:"min_x"`
	MinY        float64 `yaml:"min_y"`
	MaxX        float64 `yaml:"max_x"`
	MaxY        float64 `yaml:"max_y"`
	MaxWorkFeed float64 `yaml:"max_work_feed"`
	MaxIdleFeed float64 `yaml:"max_idle_feed"`
	MaxPower    float64 `yaml:"max_power"`
	IdleG1      bool    `yaml:"idle_g1"`
	Travel      float64 `yaml:"travel"`
	Warnings    int     `yaml:"warnings"`
}

func info(lines []string, cfg *config.Config) infoReport {
	st := transform.Analyze(lines)
	p := program.Parse(lines, program.Options{IdleFeed: cfg.Program.IdleFeed})
	r := infoReport{
		Lines:       st.Lines,
		Segments:    len(p.Segments),
		LaserMode:   p.LaserMode,
		MaxWorkFeed: st.MaxWorkFeed,
		MaxIdleFeed: st.MaxIdleFeed,
		MaxPower:    st.MaxPower,
		IdleG1:      st.IdleG1,
		Travel:      p.Travel(p.Identity()),
		Warnings:    len(p.Warnings),
	}
	if !st.Bounds.Empty() {
		r.MinX, r.MinY = st.Bounds.Min.X, st.Bounds.Min.Y
		r.MaxX, r.MaxY = st.Bounds.Max.X, st.Bounds.Max.Y
	}
	for _, s := range p.Segments {
		if s.Reversible {
			r.Reversible++
		}
	}
	return r
}

var infoCmd = command{
	usage: "info <file>: print program extent, feeds, power and segment counts",
	run: func(ctx context.Context, e *env, fs *pflag.FlagSet) error {
		if fs.NArg() < 1 {
			return errors.New("missing input file")
		}
		lines, err := loadLines(fs.Arg(0), e.cfg.Program)
		if err != nil {
			return err
		}
		return yaml.NewEncoder(os.Stdout).Encode(info(lines, e.cfg))
	},
}

func parseSize(s string) (w, h float64, err error) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("size %q: want WIDTHxHEIGHT", s)
	}
	w, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	h, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	return w, h, nil
}

func transformLines(lines []string, fs *pflag.FlagSet, log *zap.Logger) ([]string, error) {
	var err error
	if v, _ := fs.GetString("scale"); v != "" {
		w, h, err := parseSize(v)
		if err != nil {
			return nil, err
		}
		var factor float64
		lines, factor, err = transform.Scale(lines, w, h)
		if err != nil {
			return nil, err
		}
		log.Info("scaled", zap.Float64("factor", factor))
	}
	if v, _ := fs.GetFloat64("power"); v > 0 {
		lines, err = transform.AdjustPower(lines, v)
		if err != nil {
			return nil, err
		}
	}
	work, _ := fs.GetFloat64("work-feed")
	idle, _ := fs.GetFloat64("idle-feed")
	if work > 0 {
		lines = transform.AdjustSpeed(lines, work, idle)
	}
	if v, _ := fs.GetBool("fix-idle"); v {
		lines = transform.FixIdle(lines)
	}
	if v, _ := fs.GetInt("fix-power"); v > 0 {
		lines = transform.FixPower(lines, v)
	}
	return lines, nil
}

var transformCmd = command{
	usage: "transform <in> [out]: scale, rescale power or feeds, fix idle moves",
	flags: func(fs *pflag.FlagSet) {
		fs.String("scale", "", "Fit the program into WIDTHxHEIGHT.")
		fs.Float64("power", 0, "New maximum S value.")
		fs.Float64("work-feed", 0, "New maximum cutting feed.")
		fs.Float64("idle-feed", 0, "New maximum idle feed (with --work-feed).")
		fs.Bool("fix-idle", false, "Turn laser-off G1 moves into G0.")
		fs.Int("fix-power", 0, "Wrap rapids in M5 and M3 S<power>.")
	},
	run: func(ctx context.Context, e *env, fs *pflag.FlagSet) error {
		if fs.NArg() < 1 {
			return errors.New("missing input file")
		}
		lines, err := loadLines(fs.Arg(0), e.cfg.Program)
		if err != nil {
			return err
		}
		lines, err = transformLines(lines, fs, e.log)
		if err != nil {
			return err
		}
		return writeOutput(fs.Args(), 1, lines)
	},
}
