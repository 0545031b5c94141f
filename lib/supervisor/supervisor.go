// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor tracks the job processes the agent has launched
// and reports them as they exit.
//
// Every spawned process gets a reaper goroutine that blocks in Wait,
// records the exit status, and closes a done channel. The control loop
// never blocks on a child: it calls [Supervisor.Poll] once per tick,
// which collects the entries whose done channel is closed and drops
// them from the tracked set. Apart from the reapers, a Supervisor is
// used only from the control loop goroutine.
package supervisor

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/aetros-agent/lib/clock"
	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

// Result is the observed end of one job process.
type Result struct {
	Job schema.Job

	// ExitCode is the process exit status, or -1 when the process was
	// killed by a signal or could not be waited on.
	ExitCode int

	// Signal is set when the process was killed by a signal.
	Signal os.Signal

	// WaitError is the raw error from Wait, nil on success.
	WaitError error
}

// Failed reports whether the job should be reported as failed.
func (r Result) Failed() bool {
	return r.ExitCode != 0
}

// Reason is the human-readable failure text sent to the control plane.
func (r Result) Reason() string {
	if r.Signal != nil {
		return fmt.Sprintf("Failed job %s. Terminated by signal: %v", r.Job.ID, r.Signal)
	}
	return fmt.Sprintf("Failed job %s. Exit status: %d", r.Job.ID, r.ExitCode)
}

type entry struct {
	job     schema.Job
	process Process
	done    chan struct{}

	// Written by the reaper before done is closed.
	exitCode  int
	signal    os.Signal
	waitError error
}

// Supervisor owns the set of live job processes.
type Supervisor struct {
	starter Starter
	clock   clock.Clock
	logger  *slog.Logger
	entries []*entry

	// exits is signalled (coalesced) by reapers.
	exits chan struct{}
}

// New returns a Supervisor that starts processes with starter.
func New(starter Starter, clock clock.Clock, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		starter: starter,
		clock:   clock,
		logger:  logger,
		exits:   make(chan struct{}, 1),
	}
}

// Exits receives a value after a tracked process exits. Notifications
// coalesce: one receive may stand for several exits. Poll remains the
// only way to collect results.
func (s *Supervisor) Exits() <-chan struct{} {
	return s.exits
}

// Spawn starts the process described by spec on behalf of job and
// tracks it. The job queue is not touched.
func (s *Supervisor) Spawn(job schema.Job, spec Spec) error {
	process, err := s.starter.Start(spec)
	if err != nil {
		return fmt.Errorf("spawning job %s: %w", job.ID, err)
	}

	tracked := &entry{job: job, process: process, done: make(chan struct{})}
	s.entries = append(s.entries, tracked)

	started := s.clock.Now()
	s.logger.Info("job process started",
		"job_id", job.ID,
		"model", job.ModelID,
		"pid", process.Pid(),
	)

	go func() {
		waitError := process.Wait()
		tracked.exitCode, tracked.signal = ExitStatus(waitError)
		tracked.waitError = waitError
		close(tracked.done)
		select {
		case s.exits <- struct{}{}:
		default:
		}
		s.logger.Debug("job process exited",
			"job_id", job.ID,
			"pid", process.Pid(),
			"exit_code", tracked.exitCode,
			"duration", s.clock.Now().Sub(started),
		)
	}()
	return nil
}

// Poll returns a Result for every tracked process that has exited and
// stops tracking it. Processes still running are left untouched.
// Results are in spawn order. Poll never blocks.
func (s *Supervisor) Poll() []Result {
	var results []Result
	remaining := s.entries[:0]
	for _, tracked := range s.entries {
		select {
		case <-tracked.done:
			results = append(results, Result{
				Job:       tracked.job,
				ExitCode:  tracked.exitCode,
				Signal:    tracked.signal,
				WaitError: tracked.waitError,
			})
		default:
			remaining = append(remaining, tracked)
		}
	}
	clear(s.entries[len(remaining):])
	s.entries = remaining
	return results
}

// Running returns the number of tracked processes, including any that
// exited since the last Poll.
func (s *Supervisor) Running() int {
	return len(s.entries)
}

// Has reports whether a process for the job id is tracked.
func (s *Supervisor) Has(id string) bool {
	for _, tracked := range s.entries {
		if tracked.job.ID == id {
			return true
		}
	}
	return false
}

// IDs returns the tracked job ids in spawn order.
func (s *Supervisor) IDs() []string {
	ids := make([]string, len(s.entries))
	for i, tracked := range s.entries {
		ids[i] = tracked.job.ID
	}
	return ids
}
