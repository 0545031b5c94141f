// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the agent's control channel: one persistent TCP
// (or unix) connection to the control plane carrying CBOR frames.
//
// Every frame is a batch, a CBOR array of message maps. A bare map is
// read as a batch of one. Frames the agent writes are always batches of
// one.
//
// The connection opens with a handshake. [Client.Register] sends a
// register_server message and reads the first reply batch; the "a"
// field of its first message decides the outcome:
//
//   - "registered": the client emits [EventRegistration], dispatches
//     the rest of the batch, and starts reading.
//   - "registration_failed": [ErrAccessDenied].
//   - "already_registered": [ErrAlreadyRegistered].
//   - anything else: [ErrProtocol].
//
// After registration the reader goroutine turns inbound messages into
// [Event] values on [Client.Events]. A message containing "stop"
// closes the connection and emits [EventStop]; an unexpected read
// failure emits [EventDisconnected]. The events channel is closed when
// the reader exits. The client never reconnects.
//
// [Client.Send] is fire-and-forget: write failures are logged and
// never returned to the caller.
package messaging
