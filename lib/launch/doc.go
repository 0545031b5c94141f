// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launch starts jobs.
//
// The agent daemon never runs a job's command directly. For every
// dequeued job it spawns its own executable as
// "<self> start <job-id> --api-key=<key>" ([ServerCommand],
// [ServerEnv]). That child runs a [Launcher], which:
//
//   - checks the job out of its state store and loads the job record
//   - builds the job environment and substitutes {{parameter}}
//     placeholders into the command
//   - builds or pulls the container image when the job has one, and
//     records the image metadata in the store
//   - runs the command, in a container or on the host, relaying its
//     output line by line to the terminal and into the compressed
//     output log
//   - records the exit code, and marks the job failed on a non-zero
//     exit
//
// A first interrupt during the run asks the job to stop (containers
// get SIGINT through the docker client; host processes already got it
// from the terminal). A second interrupt kills the child. After an
// interrupt the job is marked stopped when it had started reporting
// progress, aborted otherwise.
//
// The launcher reports its outcome as an error implementing
// ExitCode() so the start command exits with the child's code.
package launch
