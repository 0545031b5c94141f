// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
)

// ExitError is a non-zero exit from a container runtime command.
type ExitError struct {
	// Command names the docker subcommand ("build", "pull", ...).
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("docker %s exited with code %d", e.Command, e.Code)
}

// ExitCode returns the code, so an ExitError propagated to main sets
// the process exit status.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// IsExitError reports whether err wraps an ExitError and returns its
// code.
func IsExitError(err error) (int, bool) {
	var exitError *ExitError
	if errors.As(err, &exitError) {
		return exitError.Code, true
	}
	return 0, false
}
