// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

// TrapShim defines a shell function that starts its arguments in the
// background and forwards SIGINT to them. A container's first process
// gets no default signal handling from the kernel, so without a
// handler "docker kill --signal INT" would be ignored.
const TrapShim = `trapIt () { "$@"& pid="$!"; trap "echo KILLING; kill -INT $pid" INT; wait; };`

// WrapShellCommand returns the argv that runs command through sh under
// the trap shim.
func WrapShellCommand(command string) []string {
	return []string{"sh", "-c", TrapShim + "trapIt " + command}
}
