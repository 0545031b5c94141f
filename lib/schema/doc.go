// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the agent's data contracts: the control-plane
// wire messages ([Outbound], [Inbound]), the [Job] pushed by the control
// plane, the [JobRecord] the launcher reads from the job state store,
// and the telemetry payloads ([Inventory], [Utilization]).
//
// Wire types carry `cbor` tags; types that are also written to disk as
// JSON carry `json` tags (see lib/codec).
//
// This package depends on no other agent packages.
package schema
