// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the agent's CBOR encoding configuration.
//
// The control channel carries CBOR frames: every frame is a batch, a
// CBOR array of message maps. Job records on disk and telemetry files
// stay JSON because the job process and the control plane's web
// surface read them directly.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the control connection):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// A `cbor` tag marks a type that only ever travels over the control
// channel. A `json` tag marks a type that is also written as JSON (job
// records, system-info values); fxamacker/cbor falls back to `json`
// tags when `cbor` tags are absent. Never put both tags on one field.
package codec
