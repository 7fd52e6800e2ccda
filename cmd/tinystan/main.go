package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/WardBrian/tinystan/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code, msg := exitStatus(newApp().Run(ctx, os.Args))
	stop()
	if msg != "" {
		_, _ = fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "tinystan",
		Usage: "Bayesian inference for catalog models (NUTS, Pathfinder, optimization, Laplace)",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := LoadConfig()
			if err != nil {
				return ctx, usagef("%v", err)
			}
			applyLogConfig(cmd, cfg)
			log, err := buildLogger()
			if err != nil {
				return ctx, err
			}
			ctx = logger.WithContext(ctx, log)
			return withConfig(ctx, cfg), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			sampleCmd(),
			pathfinderCmd(),
			optimizeCmd(),
			laplaceCmd(),
			modelsCmd(),
			serveCmd(),
			versionCmd(),
		},
	}
}

func buildLogger() (logger.Logger, error) {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	format, err := logger.ParseFormat(logFormat)
	if err != nil {
		return nil, usagef("%v", err)
	}
	if format == logger.FormatAuto {
		format = logger.FormatText
		if isTerminal(os.Stderr) {
			format = logger.FormatPretty
		}
	}
	return logger.ForFormat(format, os.Stderr, level), nil
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}
