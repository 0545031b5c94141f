// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/aetros-agent/lib/clock"
	"github.com/bureau-foundation/aetros-agent/lib/hwinfo"
	"github.com/bureau-foundation/aetros-agent/lib/jobqueue"
	"github.com/bureau-foundation/aetros-agent/lib/launch"
	"github.com/bureau-foundation/aetros-agent/lib/schema"
	"github.com/bureau-foundation/aetros-agent/lib/supervisor"
	"github.com/bureau-foundation/aetros-agent/messaging"
)

// DefaultMaxParallelJobs is used when Config.MaxParallelJobs is zero.
const DefaultMaxParallelJobs = 2

// DefaultTickInterval is used when Config.TickInterval is zero.
const DefaultTickInterval = time.Second

// Channel is the control plane connection. *messaging.Client
// implements it.
type Channel interface {
	Register(ctx context.Context, serverName string) error
	Events() <-chan messaging.Event
	Send(message schema.Outbound)
	Close() error
}

// Dialer opens a Channel.
type Dialer func(ctx context.Context) (Channel, error)

// Telemetry collects machine facts. *hwinfo.Collector implements it.
type Telemetry interface {
	Inventory() schema.Inventory
	Utilization(previous hwinfo.Baseline, now time.Time) (schema.Utilization, hwinfo.Baseline)
}

// Config holds the agent's settings and collaborators.
type Config struct {
	// ServerName is the name the agent registers under.
	ServerName string

	// MaxParallelJobs caps the number of job processes running at once.
	MaxParallelJobs int

	// TickInterval is the period of the utilization/scheduling tick.
	TickInterval time.Duration

	Dial      Dialer
	Starter   supervisor.Starter
	Telemetry Telemetry
	Clock     clock.Clock
	Logger    *slog.Logger

	// Executable is the agent binary re-entered as "start <job-id>" for
	// every job.
	Executable string

	// Environ is the environment jobs inherit. Cwd is their working
	// directory and is appended to PYTHONPATH.
	Environ []string
	Cwd     string

	// Job stderr is always relayed to Stderr, each line prefixed with
	// the job id. Stdout is relayed the same way only with ShowStdout;
	// every job also keeps its own output log in its state store.
	ShowStdout bool
	Colorize   bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// Agent is the control loop state. Everything except the state value
// is touched only by the goroutine running Run.
type Agent struct {
	config     Config
	logger     *slog.Logger
	clock      clock.Clock
	state      atomic.Int32
	channel    Channel
	queue      *jobqueue.Queue
	supervisor *supervisor.Supervisor
	baseline   hwinfo.Baseline
	relay      launch.Relay
	outputs    map[string][]*launch.LineWriter
	handlers   map[messaging.EventKind]func(messaging.Event) error
}

// errStopRequested ends Run without an error.
var errStopRequested = errors.New("stop requested by control plane")

// New returns an Agent in the connecting state.
func New(config Config) *Agent {
	if config.MaxParallelJobs <= 0 {
		config.MaxParallelJobs = DefaultMaxParallelJobs
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Stdout == nil {
		config.Stdout = io.Discard
	}
	if config.Stderr == nil {
		config.Stderr = io.Discard
	}

	a := &Agent{
		config:     config,
		logger:     config.Logger.With("server", config.ServerName),
		clock:      config.Clock,
		queue:      jobqueue.New(),
		supervisor: supervisor.New(config.Starter, config.Clock, config.Logger),
		outputs:    make(map[string][]*launch.LineWriter),
	}
	a.handlers = map[messaging.EventKind]func(messaging.Event) error{
		messaging.EventRegistration: a.handleRegistration,
		messaging.EventFailed:       a.handleFailed,
		messaging.EventStop:         a.handleStop,
		messaging.EventStartJobs:    a.handleStartJobs,
		messaging.EventStopJob:      a.handleStopJob,
		messaging.EventDisconnected: a.handleDisconnected,
	}
	return a
}

// State returns the current lifecycle state. Safe to call from any
// goroutine.
func (a *Agent) State() State {
	return State(a.state.Load())
}

func (a *Agent) setState(state State) {
	previous := State(a.state.Swap(int32(state)))
	if previous != state {
		a.logger.Debug("agent state changed", "from", previous.String(), "to", state.String())
	}
}

// Run connects, registers, and serves the control plane until it asks
// the agent to stop, the connection drops, or ctx is cancelled.
//
// A refused or malformed registration is returned wrapping one of the
// messaging sentinel errors. A lost connection is returned as an
// error. A stop message or ctx cancellation returns nil. Running jobs
// are never killed on the way out.
func (a *Agent) Run(ctx context.Context) error {
	a.setState(StateConnecting)
	channel, err := a.config.Dial(ctx)
	if err != nil {
		a.setState(StateTerminated)
		return fmt.Errorf("connecting to control plane: %w", err)
	}
	a.channel = channel

	a.setState(StateRegistering)
	a.logger.Info("registering with control plane")
	if err := channel.Register(ctx, a.config.ServerName); err != nil {
		channel.Close()
		a.setState(StateTerminated)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("registering server %q: %w", a.config.ServerName, err)
	}

	err = a.serve(ctx)
	a.drain()
	if errors.Is(err, errStopRequested) {
		return nil
	}
	return err
}

// serve is the control loop proper.
func (a *Agent) serve(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.config.TickInterval)
	defer ticker.Stop()

	events := a.channel.Events()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutting down", "reason", context.Cause(ctx))
			return nil

		case event, ok := <-events:
			if !ok {
				return errors.New("control channel closed")
			}
			if err := a.handle(event); err != nil {
				return err
			}

		case <-ticker.C:
			a.tick()

		case <-a.supervisor.Exits():
			// Report finished jobs now; new launches wait for the tick.
			a.reap()
		}
	}
}

func (a *Agent) handle(event messaging.Event) error {
	handler, ok := a.handlers[event.Kind]
	if !ok {
		a.logger.Warn("ignoring unknown control event", "kind", string(event.Kind))
		return nil
	}
	return handler(event)
}

// drain stops admitting work and closes the channel. Running jobs keep
// going and record their results in their own state stores.
func (a *Agent) drain() {
	a.setState(StateDraining)
	if a.channel != nil {
		a.channel.Close()
	}
	if running := a.supervisor.IDs(); len(running) > 0 {
		a.logger.Warn("leaving jobs running", "jobs", running)
	}
	if a.queue.Len() > 0 {
		a.logger.Info("dropping queued jobs", "jobs", a.queue.IDs())
	}
	a.setState(StateTerminated)
}

func (a *Agent) handleRegistration(messaging.Event) error {
	a.queue = jobqueue.New()
	a.setState(StateRegistered)
	a.logger.Info("registered with control plane", "max_parallel_jobs", a.config.MaxParallelJobs)
	a.channel.Send(schema.Outbound{
		Type:   schema.MessageSystem,
		Values: a.config.Telemetry.Inventory(),
	})
	return nil
}

func (a *Agent) handleFailed(event messaging.Event) error {
	return fmt.Errorf("registration refused: %w", event.Err)
}

func (a *Agent) handleStop(messaging.Event) error {
	a.logger.Info("control plane requested stop")
	return errStopRequested
}

func (a *Agent) handleDisconnected(event messaging.Event) error {
	a.logger.Error("control channel disconnected", "error", event.Err)
	return fmt.Errorf("control channel disconnected: %w", event.Err)
}

func (a *Agent) handleStartJobs(event messaging.Event) error {
	if a.State() != StateRegistered {
		a.logger.Warn("ignoring start-jobs outside registered state", "state", a.State().String())
		return nil
	}
	for _, job := range event.Jobs {
		if job.ID == "" {
			a.logger.Warn("ignoring job without id", "model", job.ModelID)
			continue
		}
		if a.supervisor.Has(job.ID) {
			a.logger.Debug("job already running", "job_id", job.ID)
			continue
		}
		if !a.queue.Enqueue(job) {
			a.logger.Debug("job already queued", "job_id", job.ID)
			continue
		}
		a.logger.Info("job queued",
			"job_id", job.ID,
			"model", job.ModelID,
			"index", job.Index,
			"username", job.Username,
			"queue_length", a.queue.Len(),
		)
		a.channel.Send(schema.Outbound{Type: schema.MessageJobQueued, ID: job.ID})
	}
	return nil
}

// handleStopJob removes a queued job. A job that already started is
// left alone; it reports its own end.
func (a *Agent) handleStopJob(event messaging.Event) error {
	if a.queue.Cancel(event.JobID) {
		a.logger.Info("queued job cancelled", "job_id", event.JobID)
		return nil
	}
	if a.supervisor.Has(event.JobID) {
		a.logger.Info("stop-job for running job ignored", "job_id", event.JobID)
		return nil
	}
	a.logger.Debug("stop-job for unknown job", "job_id", event.JobID)
	return nil
}

// tick reports utilization and runs one scheduling pass.
func (a *Agent) tick() {
	if a.State() != StateRegistered {
		return
	}
	a.sendUtilization()
	a.reap()
	a.schedule()
}

func (a *Agent) sendUtilization() {
	utilization, baseline := a.config.Telemetry.Utilization(a.baseline, a.clock.Now())
	a.baseline = baseline
	utilization.Jobs = schema.JobCounts{
		Parallel: a.config.MaxParallelJobs,
		Enqueued: a.queue.Len(),
		Running:  a.supervisor.Running(),
	}
	a.channel.Send(schema.Outbound{Type: schema.MessageUtilization, Values: utilization})
}

func (a *Agent) reap() {
	for _, result := range a.supervisor.Poll() {
		id := result.Job.ID
		a.flushOutput(id)
		a.queue.Forget(id)
		if !result.Failed() {
			a.logger.Info("job finished", "job_id", id)
			continue
		}
		a.logger.Warn("job failed", "job_id", id, "exit_code", result.ExitCode, "signal", result.Signal)
		a.channel.Send(schema.Outbound{
			Type:  schema.MessageJobFailed,
			ID:    id,
			Error: result.Reason(),
		})
	}
}

func (a *Agent) schedule() {
	for {
		job, ok := a.queue.DequeueIfCapacity(a.supervisor.Running(), a.config.MaxParallelJobs)
		if !ok {
			return
		}
		a.launch(job)
	}
}

// launch spawns "aetros start" for job. A spawn failure is reported as
// a failed job and does not affect the loop.
func (a *Agent) launch(job schema.Job) {
	spec := supervisor.Spec{
		Command: launch.ServerCommand(a.config.Executable, job),
		Env:     launch.ServerEnv(a.config.Environ, a.config.Cwd, job),
		Dir:     a.config.Cwd,
	}
	prefix := launch.JobPrefix(job.ID, a.config.Colorize)
	stderr := a.relay.Writer(a.config.Stderr, prefix)
	spec.Stderr = stderr
	a.outputs[job.ID] = []*launch.LineWriter{stderr}
	if a.config.ShowStdout {
		stdout := a.relay.Writer(a.config.Stdout, prefix)
		spec.Stdout = stdout
		a.outputs[job.ID] = append(a.outputs[job.ID], stdout)
	}

	a.logger.Info("launching job", "job_id", job.ID, "model", job.ModelID)
	if err := a.supervisor.Spawn(job, spec); err != nil {
		a.logger.Error("launching job failed", "job_id", job.ID, "error", err)
		delete(a.outputs, job.ID)
		a.channel.Send(schema.Outbound{
			Type:  schema.MessageJobFailed,
			ID:    job.ID,
			Error: fmt.Sprintf("Failed job %s. %v", job.ID, err),
		})
	}
}

func (a *Agent) flushOutput(id string) {
	for _, writer := range a.outputs[id] {
		writer.Flush()
	}
	delete(a.outputs, id)
}
