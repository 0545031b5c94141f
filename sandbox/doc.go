// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox builds and drives the container a job runs in.
//
// [RunOptions] describes a job container: the work tree and state
// store mounts, the environment forwarded by name, volumes, resource
// limits, and GPU devices. [BuildRun] turns it into the argument list
// for "docker run". Commands given as a single string are wrapped in
// the [TrapShim] so an interrupt sent to the container reaches the
// job, which otherwise runs as PID 1 and ignores SIGINT.
//
// [Docker] runs the image lifecycle commands (build, pull, inspect,
// rm, kill, stop) through a [Runner]. A non-zero exit from the docker
// client surfaces as an [*ExitError] carrying the code.
//
// [RenderDockerfile] materializes a build file from a job's inline
// dockerfile or install configuration.
package sandbox
