// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command aetros is the fleet agent. "aetros server" registers the
// machine with the control plane and runs the jobs it is given; each
// job runs as "aetros start <job-id>".
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/aetros-agent/cmd/aetros/cli"
	"github.com/bureau-foundation/aetros-agent/lib/config"
	"github.com/bureau-foundation/aetros-agent/lib/process"
)

func main() {
	if err := root().Execute(context.Background(), os.Args[1:]); err != nil {
		process.Exit(err)
	}
}

func root() *cli.Command {
	return &cli.Command{
		Name:        "aetros",
		Description: "AETROS fleet agent: runs training jobs on this machine for the control plane.",
		Subcommands: []*cli.Command{
			serverCommand(),
			startCommand(),
			versionCommand(),
		},
	}
}

// loadConfig reads path, or the default home configuration when path
// is empty. The returned path is absolute so it survives being handed
// to job processes.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	return config.LoadFile(absolute)
}
