// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/aetros-agent/cmd/aetros/cli"
	"github.com/bureau-foundation/aetros-agent/lib/clock"
	"github.com/bureau-foundation/aetros-agent/lib/jobstore"
	"github.com/bureau-foundation/aetros-agent/lib/launch"
	"github.com/bureau-foundation/aetros-agent/lib/schema"
	"github.com/bureau-foundation/aetros-agent/lib/supervisor"
	"github.com/bureau-foundation/aetros-agent/sandbox"
)

type startOptions struct {
	configPath string
	apiKey     string
	noFetch    bool
	volumes    []string
	gpuDevices []string
	env        []string
	recordPath string
	verbose    bool
}

func startCommand() *cli.Command {
	var options startOptions
	return &cli.Command{
		Name:    "start",
		Summary: "Run one job to completion",
		Description: `Check out a job from the job store and run its command, on the host or
in a container built or pulled for it. The job's exit code becomes the
exit code of this command.

The server runs this for every job it launches. Run it by hand to
retry a job on this machine.

The first SIGINT or SIGTERM interrupts the job, the second kills it.`,
		Usage: "aetros start <job-id> [flags]",
		Examples: []cli.Example{
			{Description: "Re-run a job with a dataset mounted", Command: "aetros start 5f2c1e --volume /data:/data:ro"},
			{Description: "Run a job defined in a local file", Command: "aetros start local-1 --record job.json"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("start", pflag.ContinueOnError)
			flagSet.StringVar(&options.configPath, "config", "", "configuration file (default $AETROS_CONFIG or ~/aetros.yml)")
			flagSet.StringVar(&options.apiKey, "api-key", "", "job API key (default $AETROS_API_KEY)")
			flagSet.BoolVar(&options.noFetch, "no-fetch", false, "use the local job state without fetching")
			flagSet.StringArrayVar(&options.volumes, "volume", nil, "docker volume to mount, repeatable")
			flagSet.StringArrayVar(&options.gpuDevices, "gpu-device", nil, "GPU device index to expose, repeatable")
			flagSet.StringArrayVarP(&options.env, "env", "e", nil, "KEY=VALUE for the job environment, repeatable")
			flagSet.StringVar(&options.recordPath, "record", "", "create the job from this job.json first (implies --no-fetch)")
			flagSet.BoolVarP(&options.verbose, "verbose", "v", false, "debug logging")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			return runStart(ctx, args, options)
		},
	}
}

func runStart(ctx context.Context, args []string, options startOptions) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: expected exactly one job id, got %d arguments", cli.ErrUsage, len(args))
	}
	id := args[0]
	if err := jobstore.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %v", cli.ErrUsage, err)
	}
	env, err := launch.ParseEnvFlags(options.env)
	if err != nil {
		return fmt.Errorf("%w: %v", cli.ErrUsage, err)
	}

	cfg, err := loadConfig(options.configPath)
	if err != nil {
		return err
	}
	if options.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	logger := cli.NewCommandLogger(cfg.SlogLevel()).With("component", "start")

	apiKey := options.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("AETROS_API_KEY")
	}

	store, err := jobstore.Open(ctx, jobstore.Options{
		Root:   cfg.Storage.Root,
		Remote: cfg.Storage.Remote,
		Clock:  clock.Real(),
		Logger: logger,
	}, id)
	if err != nil {
		return err
	}
	noFetch := options.noFetch
	if options.recordPath != "" {
		record, err := readRecord(options.recordPath)
		if err != nil {
			return err
		}
		if err := store.Create(ctx, record); err != nil {
			return err
		}
		noFetch = true
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("reading working directory: %w", err)
	}

	// The launcher owns interrupt handling. ctx stays live for the
	// final store writes.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	launcher := launch.New(launch.Config{
		Store:   store,
		Runtime: sandbox.NewDocker(cfg.Docker, sandbox.ExecRunner{}, logger),
		Starter: supervisor.ExecStarter{},
		Clock:   clock.Real(),
		Logger:  logger,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		OpenOutputLog: func() (launch.OutputLog, error) {
			output, err := store.OpenOutputLog()
			if err != nil {
				return nil, err
			}
			return output, nil
		},
	}, launch.Options{
		JobID:          id,
		APIKey:         apiKey,
		NoFetch:        noFetch,
		Env:            env,
		Volumes:        options.volumes,
		GPUDevices:     options.gpuDevices,
		DockerOptions:  cfg.DockerOptions,
		SSHKeyPath:     cfg.SSHKey,
		HomeConfigPath: cfg.Path,
		Environ:        os.Environ(),
		Cwd:            cwd,
	})
	return launchResult(logger, id, launcher.Run(ctx, signals))
}

// launchResult shapes the launcher's outcome into the start command's
// error. An interrupted job already recorded its status and exits 0.
func launchResult(logger *slog.Logger, id string, err error) error {
	if launch.IsAborted(err) {
		logger.Info("job interrupted", "job_id", id)
		return nil
	}
	return err
}

func readRecord(path string) (schema.JobRecord, error) {
	var record schema.JobRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return record, fmt.Errorf("reading job record: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("decoding job record %s: %w", path, err)
	}
	return record, nil
}
