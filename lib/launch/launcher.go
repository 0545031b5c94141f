// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/bureau-foundation/aetros-agent/lib/clock"
	"github.com/bureau-foundation/aetros-agent/lib/jobstore"
	"github.com/bureau-foundation/aetros-agent/lib/schema"
	"github.com/bureau-foundation/aetros-agent/lib/supervisor"
	"github.com/bureau-foundation/aetros-agent/sandbox"
)

// Store is the job state the launcher reads and writes.
// *jobstore.Store implements it.
type Store interface {
	Fetch(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Job() schema.JobRecord
	WorkTree() string
	StoragePath() string
	GitCommand() string
	CommitFile(ctx context.Context, path string) error
	SetSystemInfo(ctx context.Context, key string, value any) error
	Batch(ctx context.Context, message string, fn func() error) error
	HasFile(ctx context.Context, path string) (bool, error)
	Fail(ctx context.Context, reason string) error
	Abort(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runtime is the container runtime. *sandbox.Docker implements it.
type Runtime interface {
	Binary() string
	Build(ctx context.Context, contextDir, tag, dockerfile string, stdout, stderr io.Writer) error
	Pull(ctx context.Context, image string, stdout, stderr io.Writer) error
	Inspect(ctx context.Context, image string) (sandbox.ImageInspection, bool, error)
	Remove(ctx context.Context, name string) error
	Kill(ctx context.Context, name, signal string) error
	Stop(ctx context.Context, name string) error
}

// OutputLog receives a copy of everything the job prints and is
// committed to the store when the job ends. *jobstore.OutputLog
// implements it.
type OutputLog interface {
	io.Writer
	Commit(ctx context.Context) error
}

// Config holds the launcher's collaborators.
type Config struct {
	Store   Store
	Runtime Runtime
	Starter supervisor.Starter
	Clock   clock.Clock
	Logger  *slog.Logger

	// Stdout and Stderr receive the job's relayed output.
	Stdout io.Writer
	Stderr io.Writer

	// OpenOutputLog creates the job's output log. Nil disables it.
	OpenOutputLog func() (OutputLog, error)
}

// Options describes one launch, from the start command's arguments and
// the home configuration.
type Options struct {
	JobID  string
	APIKey string

	// NoFetch skips fetching the job from the remote.
	NoFetch bool

	// Env holds --env overrides. They are applied before the launcher's
	// own AETROS_* variables.
	Env map[string]string

	Volumes    []string
	GPUDevices []string

	// DockerOptions are inserted into every docker run command.
	DockerOptions []string

	// SSHKeyPath is the home config ssh_key, used when the process
	// environment carries no AETROS_SSH_KEY_BASE64.
	SSHKeyPath string

	// HomeConfigPath is mounted into containers when the file exists.
	HomeConfigPath string

	// Environ is the launcher's own environment (os.Environ()).
	Environ []string

	// Cwd is appended to PYTHONPATH.
	Cwd string

	// GOOS overrides runtime.GOOS for GPU flags. Tests only.
	GOOS string
}

// Launcher runs one job to completion.
type Launcher struct {
	store         Store
	runtime       Runtime
	starter       supervisor.Starter
	clock         clock.Clock
	logger        *slog.Logger
	stdout        io.Writer
	stderr        io.Writer
	openOutputLog func() (OutputLog, error)
	options       Options

	relay        Relay
	output       OutputLog
	outputStdout *LineWriter
	outputStderr *LineWriter
}

// New returns a Launcher for options.
func New(config Config, options Options) *Launcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stdout := config.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := config.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	return &Launcher{
		store:         config.Store,
		runtime:       config.Runtime,
		starter:       config.Starter,
		clock:         config.Clock,
		logger:        logger.With("job_id", options.JobID),
		stdout:        stdout,
		stderr:        stderr,
		openOutputLog: config.OpenOutputLog,
		options:       options,
	}
}

// Run launches the job and waits for it. signals delivers interrupts
// (SIGINT, SIGTERM) received by the start command.
//
// Returns nil when the job exits 0. Every other outcome is an
// *ExitError carrying the code to exit with, except failures to reach
// the job state at all, which are returned as plain errors.
func (l *Launcher) Run(ctx context.Context, signals <-chan os.Signal) error {
	id := l.options.JobID

	if !l.options.NoFetch {
		if err := l.store.Fetch(ctx, id); err != nil {
			return fmt.Errorf("fetching job %s: %w", id, err)
		}
	}
	if err := l.store.Restart(ctx, id); err != nil {
		return fmt.Errorf("checking out job %s: %w", id, err)
	}
	record := l.store.Job()
	l.logger = l.logger.With("model", record.Model)

	l.openOutput()
	defer l.flushOutput()

	env := l.jobEnvironment(record)

	command := record.Config.Command
	if command.IsZero() {
		return l.fail(ctx, 1, `No "command" given. See Configuration section in the documentation.`)
	}
	command, err := SubstituteParameters(command, record.Config.Parameters)
	if err != nil {
		return l.fail(ctx, 1, err.Error())
	}

	workTree := l.store.WorkTree()
	l.logger.Info("switching working directory", "work_tree", workTree)

	image, err := l.acquireImage(ctx, record)
	if err != nil {
		return err
	}

	spec := supervisor.Spec{Dir: workTree}
	container := image != ""
	if container {
		l.recordImage(ctx, image)
		if err := l.runtime.Remove(ctx, id); err == nil {
			l.logger.Debug("removed stale container")
		}
		invocation, err := sandbox.BuildRun(sandbox.RunOptions{
			Binary:       l.runtime.Binary(),
			Name:         id,
			Image:        image,
			ExtraOptions: l.options.DockerOptions,
			WorkTree:     workTree,
			StoragePath:  l.store.StoragePath(),
			Model:        record.Model,
			HomeConfig:   l.homeConfig(),
			Env:          env,
			Volumes:      l.options.Volumes,
			Resources:    record.Resources,
			GPUDevices:   l.options.GPUDevices,
			GOOS:         l.options.GOOS,
			Command:      command,
		})
		if err != nil {
			return l.fail(ctx, 1, err.Error())
		}
		spec.Command = invocation.Args
		env = invocation.Env
	} else if command.IsList() {
		spec.Command = command.Lines
	} else {
		spec.Command = []string{"sh", "-c", command.Line}
	}

	if err := l.store.SetSystemInfo(ctx, "image/name", image); err != nil {
		l.logger.Warn("recording image name failed", "error", err)
	}

	processEnv := environToMap(l.options.Environ)
	maps.Copy(processEnv, env)
	spec.Env = mapToEnviron(processEnv)
	spec.Stdout = l.outputStdout
	spec.Stderr = l.outputStderr

	l.logger.Warn("running job command", "command", quoteCommand(spec.Command))
	process, err := l.starter.Start(spec)
	if err != nil {
		return l.fail(ctx, 1, err.Error())
	}

	interrupted, waitError := l.wait(ctx, process, container, signals)
	l.flushOutput()

	if interrupted {
		return l.abort(ctx, container)
	}

	code, signal := supervisor.ExitStatus(waitError)
	if err := l.store.SetSystemInfo(ctx, "exit_code", code); err != nil {
		l.logger.Warn("recording exit code failed", "error", err)
	}
	if code == 0 {
		l.commitOutput(ctx)
		l.logger.Info("job finished")
		return nil
	}
	if signal != nil {
		l.logger.Warn("job terminated by signal", "signal", signal)
	}
	if code < 0 {
		code = 1
	}
	return l.fail(ctx, code, "")
}

// wait blocks until process exits. The first signal interrupts the
// job, the second kills it.
func (l *Launcher) wait(ctx context.Context, process supervisor.Process, container bool, signals <-chan os.Signal) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- process.Wait()
	}()

	interrupted := false
	for {
		select {
		case waitError := <-done:
			return interrupted, waitError
		case received, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			if !interrupted {
				interrupted = true
				l.logger.Warn("received signal, interrupting job", "signal", received)
				// docker run does not forward SIGINT to the container.
				// A host child shares our process group and already
				// received it from the terminal.
				if container {
					if err := l.runtime.Kill(ctx, l.options.JobID, "INT"); err != nil {
						l.logger.Warn("interrupting container failed", "error", err)
					}
				}
				continue
			}
			l.logger.Warn("received second signal, killing job")
			if err := process.Signal(syscall.SIGKILL); err != nil {
				l.logger.Warn("killing job failed", "error", err)
			}
		}
	}
}

// abort records an interrupted job. A job that reported progress owns
// its status and is only marked stopped. The returned error exits 0:
// the status is already recorded, and the daemon must not report the
// job as failed a second time.
func (l *Launcher) abort(ctx context.Context, container bool) error {
	fmt.Fprintln(l.stderr, "Aborted")
	if container {
		l.clock.Sleep(time.Second)
		if err := l.runtime.Stop(ctx, l.options.JobID); err != nil {
			l.logger.Warn("stopping container failed", "error", err)
		}
	}
	l.commitOutput(ctx)

	progressed, err := l.store.HasFile(ctx, jobstore.ProgressPath)
	if err != nil {
		l.logger.Warn("checking job progress failed", "error", err)
	}
	if progressed {
		err = l.store.Stop(ctx)
	} else {
		l.logger.Warn("job aborted")
		err = l.store.Abort(ctx)
	}
	if err != nil {
		l.logger.Error("recording interrupted job failed", "error", err)
	}
	return &ExitError{Code: 0, Message: "aborted", Aborted: true}
}

// fail marks the job failed and returns the error the start command
// exits with.
func (l *Launcher) fail(ctx context.Context, code int, reason string) error {
	l.logger.Error("job failed", "exit_code", code, "reason", reason)
	l.flushOutput()
	l.commitOutput(ctx)
	if err := l.store.Fail(ctx, reason); err != nil {
		l.logger.Error("recording job failure failed", "error", err)
	}
	return &ExitError{Code: code, Message: reason}
}

// jobEnvironment is the set of variables the job sees on top of the
// launcher's own environment.
func (l *Launcher) jobEnvironment(record schema.JobRecord) map[string]string {
	env := maps.Clone(l.options.Env)
	if env == nil {
		env = make(map[string]string)
	}
	process := environToMap(l.options.Environ)

	if _, ok := env["PYTHONPATH"]; !ok {
		env["PYTHONPATH"] = process["PYTHONPATH"]
	}
	env["PYTHONPATH"] += ":" + l.options.Cwd
	env["AETROS_MODEL_NAME"] = record.Model
	env["AETROS_JOB_ID"] = l.options.JobID
	env["AETROS_ATTY"] = "1"
	env["AETROS_GIT"] = l.store.GitCommand()
	if l.options.APIKey != "" {
		env["AETROS_API_KEY"] = l.options.APIKey
	}

	if key := process["AETROS_SSH_KEY_BASE64"]; key != "" {
		env["AETROS_SSH_KEY_BASE64"] = key
	} else if l.options.SSHKeyPath != "" {
		encoded, err := EncodeSSHKey(l.options.SSHKeyPath)
		if err != nil {
			l.logger.Warn("not passing ssh key to job", "error", err)
		} else {
			env["AETROS_SSH_KEY_BASE64"] = encoded
		}
	}
	return env
}

func (l *Launcher) homeConfig() string {
	if l.options.HomeConfigPath == "" {
		return ""
	}
	if _, err := os.Stat(l.options.HomeConfigPath); err != nil {
		return ""
	}
	return l.options.HomeConfigPath
}

func (l *Launcher) openOutput() {
	stdout, stderr := l.stdout, l.stderr
	if l.openOutputLog != nil {
		output, err := l.openOutputLog()
		if err != nil {
			l.logger.Warn("job output log unavailable", "error", err)
		} else {
			l.output = output
			stdout = io.MultiWriter(stdout, output)
			stderr = io.MultiWriter(stderr, output)
		}
	}
	l.outputStdout = l.relay.Writer(stdout, "")
	l.outputStderr = l.relay.Writer(stderr, "")
}

func (l *Launcher) flushOutput() {
	if l.outputStdout != nil {
		l.outputStdout.Flush()
	}
	if l.outputStderr != nil {
		l.outputStderr.Flush()
	}
}

// commitOutput commits the output log once.
func (l *Launcher) commitOutput(ctx context.Context) {
	if l.output == nil {
		return
	}
	output := l.output
	l.output = nil
	if err := output.Commit(ctx); err != nil {
		l.logger.Warn("committing job output failed", "error", err)
	}
}

// quoteCommand renders argv the way a user could paste it back.
func quoteCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, argument := range argv {
		encoded, _ := json.Marshal(argument)
		quoted[i] = string(encoded)
	}
	return "$ " + strings.Join(quoted, " ")
}
