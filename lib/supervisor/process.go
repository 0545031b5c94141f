// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Process is a running child. The supervisor only waits on it; signals
// are for the launcher's interrupt path.
type Process interface {
	// Wait blocks until the process exits. Returns nil for exit
	// status 0 and an *exec.ExitError (or equivalent) otherwise.
	Wait() error

	// Signal delivers an OS signal to the process.
	Signal(signal os.Signal) error

	// Pid returns the OS process id.
	Pid() int
}

// Spec describes a child to start.
type Spec struct {
	// Command is argv. Command[0] is resolved through PATH.
	Command []string

	// Env is the complete environment in KEY=VALUE form.
	Env []string

	// Dir is the working directory. Empty inherits the agent's.
	Dir string

	// Stdin, Stdout, Stderr follow exec.Cmd semantics: nil means
	// /dev/null.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Starter creates processes. Tests substitute a fake.
type Starter interface {
	Start(spec Spec) (Process, error)
}

// ExecStarter starts real OS processes with os/exec.
type ExecStarter struct{}

// Start implements Starter.
func (ExecStarter) Start(spec Spec) (Process, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Command[0], err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error                   { return p.cmd.Wait() }
func (p *execProcess) Signal(signal os.Signal) error { return p.cmd.Process.Signal(signal) }
func (p *execProcess) Pid() int                      { return p.cmd.Process.Pid }

// ExitStatus converts a Wait error to an exit code. A process killed by
// a signal reports -1 along with the signal. Errors carrying an
// ExitCode method report that code; any other error (the wait itself
// failed) reports -1.
func ExitStatus(waitError error) (code int, signal os.Signal) {
	if waitError == nil {
		return 0, nil
	}
	var exitError *exec.ExitError
	if errors.As(waitError, &exitError) {
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return -1, status.Signal()
		}
		return exitError.ExitCode(), nil
	}
	var coder interface{ ExitCode() int }
	if errors.As(waitError, &coder) {
		return coder.ExitCode(), nil
	}
	return -1, nil
}
