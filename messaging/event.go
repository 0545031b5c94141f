// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "github.com/bureau-foundation/aetros-agent/lib/schema"

// EventKind is the closed set of things the control channel reports.
type EventKind string

const (
	// EventRegistration: the handshake succeeded.
	EventRegistration EventKind = "registration"

	// EventFailed: the handshake was refused. Err holds the reason.
	EventFailed EventKind = "failed"

	// EventStop: the control plane asked the agent to shut down. The
	// connection is already closed.
	EventStop EventKind = "stop"

	// EventStartJobs: Jobs should be queued.
	EventStartJobs EventKind = "start-jobs"

	// EventStopJob: JobID should be removed from the queue.
	EventStopJob EventKind = "stop-job"

	// EventDisconnected: the connection was lost. Err holds the cause.
	EventDisconnected EventKind = "disconnected"
)

// Event is one notification from the control channel. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind  EventKind
	Jobs  []schema.Job
	JobID string
	Err   error
}
