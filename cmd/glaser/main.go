package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mastercactapus/glaser/config"
)

type env struct {
	cfg    *config.Config
	loader *config.Loader
	log    *zap.Logger
}

type command struct {
	usage string
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, e *env, fs *pflag.FlagSet) error
}

var commands = map[string]command{
	"optimize":    optimizeCmd,
	"send":        sendCmd,
	"serve":       serveCmd,
	"info":        infoCmd,
	"transform":   transformCmd,
	"testpattern": testPatternCmd,
	"engrave":     engraveCmd,
	"config": {
		usage: "config: print the effective configuration",
		run: func(ctx context.Context, e *env, fs *pflag.FlagSet) error {
			data, err := e.loader.YAML()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	},
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: glaser <command> [flags] [args]")
	fmt.Fprintln(os.Stderr)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(os.Stderr, "  "+commands[name].usage)
	}
}

func serialFlags(fs *pflag.FlagSet) {
	fs.String("port", "", "Port path (or name if using SPJS).")
	fs.Int("baud", 0, "Baud rate.")
	fs.String("driver", "", "Serial driver: tarm, goserial or spjs.")
	fs.String("spjs-url", "", "Websocket URL of the SPJS server to use.")
	fs.Int("window", 0, "Number of unacknowledged lines allowed (1 waits for every ack).")
}

func optimizeFlags(fs *pflag.FlagSet) {
	fs.Int("level", -1, "Optimization level 0-2, negative picks one from the program size.")
	fs.Int64("seed", 0, "Random seed, zero seeds from the clock.")
	fs.Duration("budget", 0, "Time budget for the search.")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	fs := pflag.NewFlagSet(os.Args[1], pflag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML config file.")
	debug := fs.Bool("debug", false, "Enable debug logging.")
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	fs.Parse(os.Args[2:])

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	loader := config.NewLoader()
	if err := loader.BindFlags(fs); err != nil {
		logger.Fatal("bind flags", zap.Error(err))
	}
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = cmd.run(ctx, &env{cfg: cfg, loader: loader, log: logger}, fs)
	if err != nil {
		logger.Error(os.Args[1]+" failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
