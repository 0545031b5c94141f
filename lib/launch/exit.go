// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"errors"
	"fmt"
)

// ExitError ends a launch with a specific process exit code.
type ExitError struct {
	Code    int
	Message string

	// Aborted is set when an interrupt ended the launch. Code is 0
	// then; the store already holds the stopped or aborted status.
	Aborted bool
}

func (e *ExitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job exited with code %d", e.Code)
	}
	return e.Message
}

// ExitCode returns the code the start command should exit with.
func (e *ExitError) ExitCode() int { return e.Code }

// IsAborted reports whether err ended a launch because of an interrupt.
func IsAborted(err error) bool {
	var exitError *ExitError
	return errors.As(err, &exitError) && exitError.Aborted
}
