// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/aetros-agent/cmd/aetros/cli"
	"github.com/bureau-foundation/aetros-agent/lib/agent"
	"github.com/bureau-foundation/aetros-agent/lib/clock"
	"github.com/bureau-foundation/aetros-agent/lib/config"
	"github.com/bureau-foundation/aetros-agent/lib/hwinfo"
	"github.com/bureau-foundation/aetros-agent/lib/supervisor"
	"github.com/bureau-foundation/aetros-agent/lib/version"
	"github.com/bureau-foundation/aetros-agent/messaging"
)

type serverOptions struct {
	configPath string
	host       string
	port       int
	key        string
	maxJobs    int
	showStdout bool
	verbose    bool
}

func serverCommand() *cli.Command {
	var options serverOptions
	return &cli.Command{
		Name:    "server",
		Summary: "Register this machine and run jobs from the control plane",
		Description: `Register this machine with the control plane under a server name and
run the jobs it assigns, at most --max-jobs at a time. Each job runs as
"aetros start <job-id>" in its own process.

The server name defaults to server.name from the configuration, then
to the host name.`,
		Usage: "aetros server [name] [flags]",
		Examples: []cli.Example{
			{Description: "Run up to four jobs at once", Command: "aetros server gpu-box-1 --max-jobs 4"},
			{Description: "Show job output in this terminal", Command: "aetros server --show-stdout"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("server", pflag.ContinueOnError)
			flagSet.StringVar(&options.configPath, "config", "", "configuration file (default $AETROS_CONFIG or ~/aetros.yml)")
			flagSet.StringVar(&options.host, "host", "", "control plane host (overrides config)")
			flagSet.IntVar(&options.port, "port", 0, "control plane port (overrides config)")
			flagSet.StringVar(&options.key, "secure-key", "", "key sent with the registration (overrides config key)")
			flagSet.IntVar(&options.maxJobs, "max-jobs", 0, "maximum number of jobs running in parallel (overrides config)")
			flagSet.BoolVar(&options.showStdout, "show-stdout", false, "relay job output to this terminal")
			flagSet.BoolVarP(&options.verbose, "verbose", "v", false, "debug logging")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			return runServer(ctx, args, options)
		},
	}
}

// applyServerOptions merges command line overrides into cfg and picks
// the server name.
func applyServerOptions(cfg *config.Config, args []string, options serverOptions) (string, error) {
	if len(args) > 1 {
		return "", fmt.Errorf("%w: expected at most one server name, got %d arguments", cli.ErrUsage, len(args))
	}
	if options.host != "" {
		cfg.Host = options.host
	}
	if options.port != 0 {
		cfg.Port = options.port
	}
	if options.key != "" {
		cfg.Key = options.key
	}
	if options.maxJobs != 0 {
		cfg.Server.MaxJobs = options.maxJobs
	}
	if options.showStdout {
		cfg.Server.ShowStdout = true
	}
	if options.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}

	switch {
	case len(args) == 1 && args[0] != "":
		return args[0], nil
	case cfg.Server.Name != "":
		return cfg.Server.Name, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("no server name given and host name unavailable: %w", err)
	}
	return hostname, nil
}

// controlPlaneAddress returns the dial target. An absolute host is a
// unix socket path.
func controlPlaneAddress(cfg *config.Config) (network, address string) {
	if filepath.IsAbs(cfg.Host) {
		return "unix", cfg.Host
	}
	return "tcp", cfg.Address()
}

func runServer(ctx context.Context, args []string, options serverOptions) error {
	cfg, err := loadConfig(options.configPath)
	if err != nil {
		return err
	}
	name, err := applyServerOptions(cfg, args, options)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := cli.NewCommandLogger(cfg.SlogLevel()).With("component", "server")

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating the aetros binary: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("reading working directory: %w", err)
	}
	environ := os.Environ()
	if cfg.Path != "" {
		// Jobs must read the same configuration the server did.
		environ = append(environ, "AETROS_CONFIG="+cfg.Path)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	network, address := controlPlaneAddress(cfg)
	fleetAgent := agent.New(agent.Config{
		ServerName:      name,
		MaxParallelJobs: cfg.Server.MaxJobs,
		TickInterval:    cfg.Server.TickInterval,
		Dial: func(ctx context.Context) (agent.Channel, error) {
			client, err := messaging.Dial(ctx, network, address, messaging.Options{
				Key:     cfg.Key,
				Version: version.Short(),
				Logger:  logger,
			})
			if err != nil {
				return nil, err
			}
			logger.Info("connected to control plane", "address", address, "instance", client.Instance())
			return client, nil
		},
		Starter:    supervisor.ExecStarter{},
		Telemetry:  hwinfo.NewCollector(),
		Clock:      clock.Real(),
		Logger:     logger,
		Executable: executable,
		Environ:    environ,
		Cwd:        cwd,
		ShowStdout: cfg.Server.ShowStdout,
		Colorize:   cli.IsTerminal(os.Stdout),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	})

	logger.Info("starting fleet agent",
		"version", version.Info(),
		"server", name,
		"address", address,
		"max_jobs", cfg.Server.MaxJobs,
		"config", cfg.Path,
	)
	if err := fleetAgent.Run(ctx); err != nil {
		logger.Error("fleet agent stopped", "error", err)
		return &cli.ExitError{Code: 1}
	}
	logger.Info("fleet agent stopped")
	return nil
}
