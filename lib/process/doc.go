// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the binary entrypoint helpers: the only place
// outside the CLI that writes to stderr without the structured logger
// and calls os.Exit.
package process
