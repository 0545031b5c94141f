// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the aetros binary.
//
// The variables are injected with -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/aetros-agent/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" and "0.1.0-dev" in development builds.
package version
