// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "errors"

// Registration outcomes returned by [Client.Register], wrapped with
// context. Callers match them with errors.Is.
var (
	// ErrAccessDenied means the control plane rejected the server key.
	ErrAccessDenied = errors.New("messaging: access denied")

	// ErrAlreadyRegistered means another agent holds this server name.
	ErrAlreadyRegistered = errors.New("messaging: server already registered")

	// ErrProtocol means the control plane answered with something that
	// is not a recognized message.
	ErrProtocol = errors.New("messaging: protocol error")
)
