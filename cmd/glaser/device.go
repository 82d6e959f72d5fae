package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mastercactapus/glaser/config"
	"github.com/mastercactapus/glaser/machine"
	"github.com/mastercactapus/glaser/machine/grbl"
	"github.com/mastercactapus/glaser/program"
	"github.com/mastercactapus/glaser/raster"
	"github.com/mastercactapus/glaser/spjs"
)

const driverSPJS = "spjs"

func openTransport(cfg config.SerialConfig, log *zap.Logger) (grbl.Transport, error) {
	if cfg.Driver == driverSPJS {
		sp := spjs.NewSPJS(cfg.SPJSURL, log)
		return spjs.NewPort(sp, cfg.Port, cfg.Baud), nil
	}
	p, err := grbl.OpenSerial(cfg.Port, cfg.Baud, cfg.Driver, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func openController(e *env, obs machine.Observer) (*grbl.Controller, error) {
	t, err := openTransport(e.cfg.Serial, e.log)
	if err != nil {
		return nil, err
	}
	e.log.Info("connected",
		zap.String("port", e.cfg.Serial.Port),
		zap.String("driver", e.cfg.Serial.Driver),
		zap.Int("window", e.cfg.Stream.Window),
	)
	return grbl.NewController(t, e.cfg.Stream.Controller(e.log, obs)), nil
}

// stopOnCancel halts the machine if ctx ends before the session does.
func stopOnCancel(ctx context.Context, c machine.Adapter, log *zap.Logger) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			log.Warn("interrupted, stopping")
			if err := c.Stop(); err != nil {
				log.Error("stop", zap.Error(err))
			}
		case <-done:
		}
	}()
	return func() { close(done) }
}

var errStopped = errors.New("session stopped")

var sendCmd = command{
	usage: "send <file>: stream a program to the controller",
	flags: func(fs *pflag.FlagSet) {
		serialFlags(fs)
		optimizeFlags(fs)
		fs.Bool("optimize", false, "Reorder segments before sending.")
		fs.Int("progress", 100, "Log progress every N lines.")
	},
	run: func(ctx context.Context, e *env, fs *pflag.FlagSet) error {
		if fs.NArg() < 1 {
			return errors.New("missing input file")
		}
		lines, err := loadLines(fs.Arg(0), e.cfg.Program)
		if err != nil {
			return err
		}
		opt, _ := fs.GetBool("optimize")
		lines, _ = prepare(ctx, e.log, lines, e.cfg, opt)

		every, _ := fs.GetInt("progress")
		c, err := openController(e, machine.LogObserver{Logger: e.log, Every: every})
		if err != nil {
			return err
		}
		defer c.Close()

		m := machine.NewMachine(c)
		release := stopOnCancel(ctx, c, e.log)
		defer release()

		began := time.Now()
		// the session is waited on after cancellation so Stop can land
		st, err := m.Run(context.Background(), lines)
		if err != nil {
			return err
		}
		s := c.Session()
		e.log.Info("finished",
			zap.String("state", string(st)),
			zap.Int("lines", s.Total),
			zap.Int("errors", s.Errors),
			zap.Duration("elapsed", time.Since(began)),
		)
		if st == machine.SessionStopped {
			return errStopped
		}
		return nil
	},
}

// executor returns where raster commands go: a recorder printing them to
// stdout on a dry run, otherwise a controller.
func executor(e *env, fs *pflag.FlagSet) (raster.Executor, func() error, error) {
	if dry, _ := fs.GetBool("dry-run"); dry {
		rec := &raster.Recorder{}
		return rec, func() error {
			_, err := os.Stdout.WriteString(program.Text(rec.Lines))
			return err
		}, nil
	}
	c, err := openController(e, machine.LogObserver{Logger: e.log})
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

func rasterFlags(fs *pflag.FlagSet) {
	serialFlags(fs)
	fs.Bool("dry-run", false, "Print the commands instead of sending them.")
}

var testPatternCmd = command{
	usage: "testpattern: burn a power by speed calibration grid",
	flags: func(fs *pflag.FlagSet) {
		rasterFlags(fs)
		fs.Float64("width", 50, "Pattern width in mm.")
		fs.Float64("height", 50, "Pattern height in mm.")
		fs.Int("x-steps", 5, "Number of power steps.")
		fs.Int("y-steps", 5, "Number of speed steps.")
		fs.Float64("min-power", 5, "Lowest power in percent.")
		fs.Float64("max-power", 50, "Highest power in percent.")
		fs.Float64("min-speed", 500, "Slowest feed.")
		fs.Float64("max-speed", 2500, "Fastest feed.")
	},
	run: func(ctx context.Context, e *env, fs *pflag.FlagSet) error {
		var g raster.TestGrid
		g.Width, _ = fs.GetFloat64("width")
		g.Height, _ = fs.GetFloat64("height")
		g.XSteps, _ = fs.GetInt("x-steps")
		g.YSteps, _ = fs.GetInt("y-steps")
		g.MinPower, _ = fs.GetFloat64("min-power")
		g.MaxPower, _ = fs.GetFloat64("max-power")
		g.MinSpeed, _ = fs.GetFloat64("min-speed")
		g.MaxSpeed, _ = fs.GetFloat64("max-speed")

		exec, finish, err := executor(e, fs)
		if err != nil {
			return err
		}
		eng := raster.NewEngraver(exec, e.cfg.Raster.Options(), e.log)
		err = eng.TestPattern(ctx, g)
		if ferr := finish(); err == nil {
			err = ferr
		}
		return err
	},
}

// grayRows converts an image into rows of gray levels, bottom row first
// so the first row burned sits at the work origin.
func grayRows(img image.Image) [][]uint8 {
	b := img.Bounds()
	rows := make([][]uint8, 0, b.Dy())
	for y := b.Max.Y - 1; y >= b.Min.Y; y-- {
		row := make([]uint8, b.Dx())
		for x := b.Min.X; x < b.Max.X; x++ {
			row[x-b.Min.X] = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
		}
		rows = append(rows, row)
	}
	return rows
}

var engraveCmd = command{
	usage: "engrave <image>: burn a grayscale image, one pixel per pixel_size",
	flags: rasterFlags,
	run: func(ctx context.Context, e *env, fs *pflag.FlagSet) error {
		if fs.NArg() < 1 {
			return errors.New("missing image file")
		}
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return err
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("decode %s: %w", fs.Arg(0), err)
		}

		exec, finish, err := executor(e, fs)
		if err != nil {
			return err
		}
		eng := raster.NewEngraver(exec, e.cfg.Raster.Options(), e.log)
		err = eng.Engrave(ctx, grayRows(img))
		if ferr := finish(); err == nil {
			err = ferr
		}
		return err
	},
}
