// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the aetros binary.
//
// A [Command] names a subcommand, owns a [pflag.FlagSet] factory, and
// either dispatches to [Command.Subcommands] or runs. [Command.Execute]
// parses flags, routes by the first positional argument, and prints
// help. Unknown commands and flags get a "did you mean" suggestion
// when one is within edit distance 3.
//
// [NewCommandLogger] picks the log handler: text on a terminal, JSON
// when stderr is redirected (the daemon's usual case under a service
// manager).
package cli
