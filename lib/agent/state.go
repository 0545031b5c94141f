// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

// State is the control loop's lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateRegistering
	StateRegistered
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
