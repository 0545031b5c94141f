// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bureau-foundation/aetros-agent/cmd/aetros/cli"
	"github.com/bureau-foundation/aetros-agent/lib/version"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print the agent version",
		Run: func(ctx context.Context, args []string) error {
			fmt.Fprintln(os.Stdout, "aetros "+version.Full())
			return nil
		},
	}
}
