// Package main provides the accelnet CLI: it runs the demonstration network
// on an accelerator and cross-checks it against the host reference.
package main

import (
	"fmt"
	"os"

	"github.com/born-ml/accelnet/internal/config"
	"github.com/born-ml/accelnet/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const version = "v0.1.0-dev"

// env is filled by the app's Before hook and shared by every command.
type env struct {
	cfg *config.Config
	log *zap.Logger
}

func newApp(e *env) *cli.App {
	var configPath, backend, verbosity string
	return &cli.App{
		Name:    "accelnet",
		Usage:   "Run and validate a convolutional network on a compute accelerator",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to the YAML configuration; built-in defaults when empty",
				EnvVars:     []string{"ACCELNET_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "backend",
				Usage:       "Override device.backend (host or webgpu)",
				Destination: &backend,
			},
			&cli.StringFlag{
				Name:        "verbosity",
				Usage:       "Override logger.verbosity",
				Destination: &verbosity,
			},
		},
		Before: func(c *cli.Context) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.LoadConfig(configPath); err != nil {
					return err
				}
			}
			if backend != "" {
				cfg.Device.Backend = backend
			}
			if verbosity != "" {
				cfg.Logger.Verbosity = verbosity
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity, logger.Format(cfg.Logger.Format))
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.log = zapLogger.Named("cli")
			return nil
		},
		After: func(c *cli.Context) error {
			if e.log != nil {
				_ = e.log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand(e),
			selftestCommand(e),
			devicesCommand(e),
		},
	}
}

func main() {
	var e env
	app := newApp(&e)
	if err := app.Run(os.Args); err != nil {
		if e.log != nil {
			e.log.Fatal("failed to run app", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}
