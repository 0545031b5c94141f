// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the fleet agent's control loop.
//
// An [Agent] dials the control plane, registers under a server name,
// and then runs a single goroutine that owns the job queue and the set
// of running job processes. That goroutine reacts to two inputs:
//
//   - control channel events (start-jobs, stop-job, stop, disconnect),
//     dispatched through a fixed kind to handler table, and
//   - a periodic tick that reports utilization, reaps exited jobs, and
//     launches queued jobs while capacity allows.
//
// Because events and ticks are handled by the same goroutine, a queue
// mutation never interleaves with a scheduling pass. Within a tick,
// exited processes are reaped before anything is dequeued, so a slot
// freed between two ticks is reused in the next one.
//
// Each job runs as a separate "aetros start" process with its own job
// state store. The agent only observes exit codes: a non-zero exit is
// reported once as job-failed. Stopping the agent leaves running jobs
// alone; they finish and record their status themselves.
package agent
