// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Outbound message types, sent by the agent.
const (
	// MessageRegisterServer opens the handshake. The control plane
	// answers with an Inbound carrying an Ack* value in A.
	MessageRegisterServer = "register_server"

	// MessageUtilization carries a periodic Utilization snapshot.
	MessageUtilization = "utilization"

	// MessageSystem carries the Inventory, sent once per registration.
	MessageSystem = "system"

	// MessageJobQueued acknowledges that a job entered the local queue.
	MessageJobQueued = "job-queued"

	// MessageJobFailed reports a job whose process exited non-zero.
	MessageJobFailed = "job-failed"

	// MessageSystemInfo carries one key/value fact about the agent.
	MessageSystemInfo = "system-info"
)

// Inbound message types, sent by the control plane.
const (
	MessageStartJobs = "start-jobs"
	MessageStopJob   = "stop-job"
)

// Registration acknowledgement values found in Inbound.A.
const (
	AckRegistered         = "registered"
	AckRegistrationFailed = "registration_failed"
	AckAlreadyRegistered  = "already_registered"
)

// Outbound is every message the agent sends. Only the fields relevant
// to Type are set.
type Outbound struct {
	Type string `cbor:"type"`

	// Server is the agent's name (register_server).
	Server string `cbor:"server,omitempty"`

	// SecureKey authenticates the agent (register_server). Empty when
	// the control plane accepts anonymous servers.
	SecureKey string `cbor:"secure_key,omitempty"`

	// Instance is a random identifier for this agent process
	// (register_server). It lets the control plane tell a restarted
	// agent apart from a stale connection under the same name.
	Instance string `cbor:"instance,omitempty"`

	// Version is the agent build version (register_server).
	Version string `cbor:"version,omitempty"`

	// ID is the job identifier (job-queued, job-failed).
	ID string `cbor:"id,omitempty"`

	// Error is the human-readable failure reason (job-failed).
	Error string `cbor:"error,omitempty"`

	// Values is the telemetry payload (utilization, system).
	Values any `cbor:"values,omitempty"`

	// Key and Value form a system-info update.
	Key   string `cbor:"key,omitempty"`
	Value any    `cbor:"value,omitempty"`
}

// Inbound is every message the control plane sends. A message may
// carry several directives at once; the control channel dispatches
// each present one.
type Inbound struct {
	// A is the registration acknowledgement.
	A string `cbor:"a,omitempty"`

	// Stop asks the agent to disconnect and shut down. The control
	// plane signals it by the presence of a "stop" key whatever its
	// value, so the decoder sets it from the raw map.
	Stop bool `cbor:"-"`

	Type string `cbor:"type,omitempty"`

	// Jobs is set for start-jobs.
	Jobs []Job `cbor:"jobs,omitempty"`

	// ID is set for stop-job.
	ID string `cbor:"id,omitempty"`
}
