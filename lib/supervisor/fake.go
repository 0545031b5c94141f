// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"os"
	"sync"
)

// FakeStarter records every Spec it is asked to start and hands out
// FakeProcesses. Tests end a process with FakeProcess.Exit.
type FakeStarter struct {
	mu       sync.Mutex
	started  []*FakeProcess
	nextPid  int
	StartErr error
}

// Start implements Starter.
func (f *FakeStarter) Start(spec Spec) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	f.nextPid++
	process := &FakeProcess{Spec: spec, pid: 1000 + f.nextPid, exited: make(chan struct{})}
	f.started = append(f.started, process)
	return process, nil
}

// Started returns the processes started so far, in order.
func (f *FakeStarter) Started() []*FakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeProcess(nil), f.started...)
}

// FakeProcess is a Process whose exit is controlled by the test.
type FakeProcess struct {
	Spec Spec

	pid     int
	exited  chan struct{}
	exitErr error

	mu      sync.Mutex
	signals []os.Signal
}

// Wait blocks until Exit is called.
func (p *FakeProcess) Wait() error {
	<-p.exited
	return p.exitErr
}

// Signal records the signal. The process does not exit on its own.
func (p *FakeProcess) Signal(signal os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, signal)
	return nil
}

// Pid returns the fake process id.
func (p *FakeProcess) Pid() int { return p.pid }

// Signals returns the signals received so far.
func (p *FakeProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

// Exit makes Wait return with the given exit code.
func (p *FakeProcess) Exit(code int) {
	if code != 0 {
		p.exitErr = ExitCodeError(code)
	}
	close(p.exited)
}

// Exited is closed once Exit has been called.
func (p *FakeProcess) Exited() <-chan struct{} { return p.exited }

// ExitCodeError is an error carrying a process exit code.
type ExitCodeError int

func (e ExitCodeError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// ExitCode returns the code.
func (e ExitCodeError) ExitCode() int { return int(e) }
