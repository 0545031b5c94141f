// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/aetros-agent/lib/clock"
	"github.com/bureau-foundation/aetros-agent/lib/jobstore"
	"github.com/bureau-foundation/aetros-agent/lib/schema"
	"github.com/bureau-foundation/aetros-agent/lib/supervisor"
	"github.com/bureau-foundation/aetros-agent/lib/testutil"
	"github.com/bureau-foundation/aetros-agent/sandbox"
)

const testTimeout = 5 * time.Second

// fakeStore records every state change in memory.
type fakeStore struct {
	mu          sync.Mutex
	workTree    string
	record      schema.JobRecord
	progress    bool
	calls       []string
	systemInfo  map[string]any
	committed   []string
	batches     []string
	failReasons []string
}

func newFakeStore(t *testing.T, record schema.JobRecord) *fakeStore {
	return &fakeStore{
		workTree:   t.TempDir(),
		record:     record,
		systemInfo: make(map[string]any),
	}
}

func (s *fakeStore) called(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
}

func (s *fakeStore) Fetch(ctx context.Context, id string) error   { s.called("fetch " + id); return nil }
func (s *fakeStore) Restart(ctx context.Context, id string) error { s.called("restart " + id); return nil }
func (s *fakeStore) Job() schema.JobRecord                        { return s.record }
func (s *fakeStore) WorkTree() string                             { return s.workTree }
func (s *fakeStore) StoragePath() string                          { return s.workTree + ".git" }
func (s *fakeStore) GitCommand() string                           { return "git --git-dir " + s.workTree + ".git" }

func (s *fakeStore) CommitFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, path)
	return nil
}

func (s *fakeStore) SetSystemInfo(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemInfo[key] = value
	return nil
}

func (s *fakeStore) Batch(ctx context.Context, message string, fn func() error) error {
	s.mu.Lock()
	s.batches = append(s.batches, message)
	s.mu.Unlock()
	return fn()
}

func (s *fakeStore) HasFile(ctx context.Context, path string) (bool, error) {
	return path == jobstore.ProgressPath && s.progress, nil
}

func (s *fakeStore) Fail(ctx context.Context, reason string) error {
	s.called("fail")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReasons = append(s.failReasons, reason)
	return nil
}

func (s *fakeStore) Abort(ctx context.Context) error { s.called("abort"); return nil }
func (s *fakeStore) Stop(ctx context.Context) error  { s.called("stop"); return nil }

func (s *fakeStore) hasCall(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.calls, name)
}

// fakeRuntime records docker commands.
type fakeRuntime struct {
	mu          sync.Mutex
	calls       []string
	buildError  error
	pullError   error
	inspection  sandbox.ImageInspection
	buildOutput string
}

func (r *fakeRuntime) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeRuntime) Binary() string { return "docker" }

func (r *fakeRuntime) Build(ctx context.Context, contextDir, tag, dockerfile string, stdout, stderr io.Writer) error {
	r.record("build " + tag + " " + dockerfile)
	if r.buildOutput != "" {
		io.WriteString(stdout, r.buildOutput)
	}
	return r.buildError
}

func (r *fakeRuntime) Pull(ctx context.Context, image string, stdout, stderr io.Writer) error {
	r.record("pull " + image)
	return r.pullError
}

func (r *fakeRuntime) Inspect(ctx context.Context, image string) (sandbox.ImageInspection, bool, error) {
	r.record("inspect " + image)
	return r.inspection, r.inspection.ID != "", nil
}

func (r *fakeRuntime) Remove(ctx context.Context, name string) error {
	r.record("rm " + name)
	return errors.New("no such container")
}

func (r *fakeRuntime) Kill(ctx context.Context, name, signal string) error {
	r.record("kill " + signal + " " + name)
	return nil
}

func (r *fakeRuntime) Stop(ctx context.Context, name string) error {
	r.record("stop " + name)
	return nil
}

func (r *fakeRuntime) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeOutput struct {
	mu        sync.Mutex
	buffer    bytes.Buffer
	committed int
}

func (o *fakeOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffer.Write(p)
}

func (o *fakeOutput) Commit(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.committed++
	return nil
}

type harness struct {
	store    *fakeStore
	runtime  *fakeRuntime
	starter  *supervisor.FakeStarter
	clock    *clock.FakeClock
	output   *fakeOutput
	stdout   *bytes.Buffer
	signals  chan os.Signal
	launcher *Launcher
}

func newHarness(t *testing.T, record schema.JobRecord, options Options) *harness {
	t.Helper()
	h := &harness{
		store:   newFakeStore(t, record),
		runtime: &fakeRuntime{},
		starter: &supervisor.FakeStarter{},
		clock:   clock.Fake(time.Unix(1700000000, 0)),
		output:  &fakeOutput{},
		stdout:  &bytes.Buffer{},
		signals: make(chan os.Signal),
	}
	if options.JobID == "" {
		options.JobID = "job-1"
	}
	if options.Cwd == "" {
		options.Cwd = "/srv/agent"
	}
	h.launcher = New(Config{
		Store:   h.store,
		Runtime: h.runtime,
		Starter: h.starter,
		Clock:   h.clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Stdout:  h.stdout,
		Stderr:  io.Discard,
		OpenOutputLog: func() (OutputLog, error) {
			return h.output, nil
		},
	}, options)
	return h
}

// start runs the launcher in the background.
func (h *harness) start() <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- h.launcher.Run(context.Background(), h.signals)
	}()
	return result
}

// process waits for the launcher to start its child.
func (h *harness) process(t *testing.T) *supervisor.FakeProcess {
	t.Helper()
	deadline := time.Now().Add(testTimeout) //nolint:realclock test hang prevention
	for {
		if started := h.starter.Started(); len(started) > 0 {
			return started[0]
		}
		if time.Now().After(deadline) { //nolint:realclock test hang prevention
			t.Fatal("launcher never started the job process")
		}
		time.Sleep(time.Millisecond) //nolint:realclock polling a fake
	}
}

func envValue(environ []string, key string) (string, bool) {
	for _, entry := range environ {
		if name, value, ok := strings.Cut(entry, "="); ok && name == key {
			return value, true
		}
	}
	return "", false
}

func hostRecord(command string) schema.JobRecord {
	return schema.JobRecord{
		ID:    "job-1",
		Model: "owner/mnist",
		Config: schema.JobConfig{
			Command:    schema.Script{Line: command},
			Parameters: map[string]any{"lr": 0.1, "optimizer": map[string]any{"name": "adam"}},
		},
	}
}

func TestRunHostCommand(t *testing.T) {
	h := newHarness(t, hostRecord("python train.py --lr {{lr}} --opt {{optimizer.name}}"), Options{
		APIKey:  "job-key",
		Environ: []string{"PATH=/usr/bin", "PYTHONPATH=/opt/lib"},
		Env:     map[string]string{"EXTRA": "1"},
	})
	result := h.start()

	process := h.process(t)
	spec := process.Spec
	want := []string{"sh", "-c", `python train.py --lr 0.1 --opt "adam"`}
	if !slices.Equal(spec.Command, want) {
		t.Errorf("Command = %q, want %q", spec.Command, want)
	}
	if spec.Dir != h.store.workTree {
		t.Errorf("Dir = %q, want work tree", spec.Dir)
	}
	expected := map[string]string{
		"PATH":              "/usr/bin",
		"PYTHONPATH":        "/opt/lib:/srv/agent",
		"AETROS_MODEL_NAME": "owner/mnist",
		"AETROS_JOB_ID":     "job-1",
		"AETROS_ATTY":       "1",
		"AETROS_GIT":        h.store.GitCommand(),
		"AETROS_API_KEY":    "job-key",
		"EXTRA":             "1",
	}
	for key, value := range expected {
		if got, ok := envValue(spec.Env, key); !ok || got != value {
			t.Errorf("env %s = %q (present %v), want %q", key, got, ok, value)
		}
	}

	spec.Stdout.Write([]byte("epoch 1\nepoch"))
	spec.Stdout.Write([]byte(" 2\npartial"))
	process.Exit(0)

	if err := testutil.RequireReceive(t, result, testTimeout, "launcher result"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !h.store.hasCall("fetch job-1") || !h.store.hasCall("restart job-1") {
		t.Errorf("store calls = %v, want fetch and restart", h.store.calls)
	}
	if h.store.hasCall("fail") {
		t.Error("successful job must not be marked failed")
	}
	if h.store.systemInfo["exit_code"] != 0 {
		t.Errorf("exit_code = %v, want 0", h.store.systemInfo["exit_code"])
	}
	if image, ok := h.store.systemInfo["image/name"]; !ok || image != "" {
		t.Errorf("image/name = %v (present %v), want empty", image, ok)
	}
	if got := h.stdout.String(); got != "epoch 1\nepoch 2\npartial\n" {
		t.Errorf("relayed stdout = %q", got)
	}
	if h.output.buffer.String() != "epoch 1\nepoch 2\npartial\n" || h.output.committed != 1 {
		t.Errorf("output log = %q committed %d times", h.output.buffer.String(), h.output.committed)
	}
	if len(h.runtime.recorded()) != 0 {
		t.Errorf("host job ran docker: %v", h.runtime.recorded())
	}
}

func TestRunListCommandIsExecutedDirectly(t *testing.T) {
	record := hostRecord("")
	record.Config.Command = schema.Script{Lines: []string{"python", "train.py", "--lr={{lr}}"}}
	h := newHarness(t, record, Options{NoFetch: true})
	result := h.start()

	process := h.process(t)
	if want := []string{"python", "train.py", "--lr=0.1"}; !slices.Equal(process.Spec.Command, want) {
		t.Errorf("Command = %q, want %q", process.Spec.Command, want)
	}
	process.Exit(0)
	testutil.RequireReceive(t, result, testTimeout, "launcher result")

	if h.store.hasCall("fetch job-1") {
		t.Error("fetch must be skipped with NoFetch")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	h := newHarness(t, hostRecord("false"), Options{})
	result := h.start()

	h.process(t).Exit(3)

	err := testutil.RequireReceive(t, result, testTimeout, "launcher result")
	var exitError *ExitError
	if !errors.As(err, &exitError) || exitError.ExitCode() != 3 {
		t.Fatalf("Run error = %v, want exit code 3", err)
	}
	if h.store.systemInfo["exit_code"] != 3 {
		t.Errorf("exit_code = %v, want 3", h.store.systemInfo["exit_code"])
	}
	if len(h.store.failReasons) != 1 || h.store.failReasons[0] != "" {
		t.Errorf("fail reasons = %q, want one empty reason", h.store.failReasons)
	}
}

func TestRunMissingCommand(t *testing.T) {
	h := newHarness(t, schema.JobRecord{ID: "job-1", Model: "owner/mnist"}, Options{})

	err := h.launcher.Run(context.Background(), nil)

	var exitError *ExitError
	if !errors.As(err, &exitError) || exitError.Code != 1 {
		t.Fatalf("Run error = %v, want exit code 1", err)
	}
	if len(h.store.failReasons) != 1 || !strings.HasPrefix(h.store.failReasons[0], `No "command" given`) {
		t.Errorf("fail reasons = %q", h.store.failReasons)
	}
	if len(h.starter.Started()) != 0 {
		t.Error("no process may start without a command")
	}
}

func containerRecord(image string) schema.JobRecord {
	record := hostRecord("python train.py")
	record.Config.Image = image
	record.Resources = &schema.Resources{CPU: 2, Memory: 4}
	return record
}

func TestRunPulledImage(t *testing.T) {
	h := newHarness(t, containerRecord("tensorflow/tensorflow:2.15"), Options{
		Volumes:       []string{"/data:/data"},
		DockerOptions: []string{"--shm-size", "1g"},
	})
	h.runtime.inspection = sandbox.ImageInspection{ID: "sha256:abc", OS: "linux", Size: 42}
	result := h.start()

	process := h.process(t)
	argv := process.Spec.Command
	if argv[0] != "docker" || argv[1] != "run" || argv[4] != "job-1" {
		t.Errorf("argv prefix = %q", argv[:5])
	}
	if argv[5] != "--shm-size" {
		t.Errorf("docker options must follow the container name, argv = %q", argv)
	}
	if !slices.Contains(argv, "tensorflow/tensorflow:2.15") || !slices.Contains(argv, "/data:/data") {
		t.Errorf("argv = %q, want image and volume", argv)
	}
	last := argv[len(argv)-1]
	if !strings.HasPrefix(last, sandbox.TrapShim) || !strings.HasSuffix(last, "trapIt python train.py") {
		t.Errorf("shell command = %q, want trap-wrapped", last)
	}
	if got, _ := envValue(process.Spec.Env, "AETROS_GIT_WORK_DIR"); got != sandbox.ContainerWorkDir {
		t.Errorf("docker client env misses container variables: AETROS_GIT_WORK_DIR=%q", got)
	}

	process.Exit(0)
	if err := testutil.RequireReceive(t, result, testTimeout, "launcher result"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantCalls := []string{"pull tensorflow/tensorflow:2.15", "inspect tensorflow/tensorflow:2.15", "rm job-1"}
	if got := h.runtime.recorded(); !slices.Equal(got, wantCalls) {
		t.Errorf("docker calls = %q, want %q", got, wantCalls)
	}
	if h.store.systemInfo["image/id"] != "sha256:abc" || h.store.systemInfo["image/size"] != int64(42) {
		t.Errorf("image facts = %v", h.store.systemInfo)
	}
	if !slices.Contains(h.store.batches, "Docker image") {
		t.Errorf("batches = %q, want the image facts in one batch", h.store.batches)
	}
	if h.store.systemInfo["image/name"] != "tensorflow/tensorflow:2.15" {
		t.Errorf("image/name = %v", h.store.systemInfo["image/name"])
	}
}

func TestRunPullFailure(t *testing.T) {
	h := newHarness(t, containerRecord("missing/image"), Options{})
	h.runtime.pullError = &sandbox.ExitError{Command: "pull", Code: 125}

	err := h.launcher.Run(context.Background(), nil)

	var exitError *ExitError
	if !errors.As(err, &exitError) || exitError.Code != 125 {
		t.Fatalf("Run error = %v, want exit code 125", err)
	}
	if !slices.Equal(h.store.failReasons, []string{"Image pull error"}) {
		t.Errorf("fail reasons = %q", h.store.failReasons)
	}
	if len(h.starter.Started()) != 0 {
		t.Error("job must not start after a failed pull")
	}
}

func TestRunBuildsFromInstallSteps(t *testing.T) {
	record := containerRecord("python:3.12")
	record.Config.Install = schema.Script{Lines: []string{"pip install torch", "apt-get update"}}
	h := newHarness(t, record, Options{})
	h.runtime.buildOutput = "Step 1/3\n"
	result := h.start()

	process := h.process(t)
	if !slices.Contains(process.Spec.Command, "owner/mnist") {
		t.Errorf("argv = %q, want the built image", process.Spec.Command)
	}
	process.Exit(0)
	if err := testutil.RequireReceive(t, result, testTimeout, "launcher result"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(h.store.workTree, sandbox.GeneratedDockerfile))
	if err != nil {
		t.Fatalf("reading generated dockerfile: %v", err)
	}
	if !strings.Contains(string(content), "FROM python:3.12\nRUN pip install torch\nRUN apt-get update") {
		t.Errorf("generated dockerfile = %q", content)
	}
	if !slices.Equal(h.store.committed, []string{sandbox.GeneratedDockerfile}) {
		t.Errorf("committed = %q", h.store.committed)
	}
	if h.store.systemInfo["image/dockerfile"] != sandbox.GeneratedDockerfile {
		t.Errorf("image/dockerfile = %v", h.store.systemInfo["image/dockerfile"])
	}
	if hash, _ := h.store.systemInfo["image/dockerfile_hash"].(string); len(hash) != 64 {
		t.Errorf("image/dockerfile_hash = %q, want 64 hex digits", hash)
	}
	calls := h.runtime.recorded()
	if calls[0] != "build owner/mnist "+sandbox.GeneratedDockerfile {
		t.Errorf("docker calls = %q, want build first and no pull", calls)
	}
	if !strings.Contains(h.output.buffer.String(), "Step 1/3\n") {
		t.Error("build output should reach the output log")
	}
}

func TestRunBuildsExistingDockerfile(t *testing.T) {
	record := containerRecord("")
	record.Model = "Owner/MNIST"
	record.Config.Dockerfile = schema.Script{Line: "docker/Dockerfile"}
	h := newHarness(t, record, Options{})
	testutil.WriteFile(t, filepath.Join(h.store.workTree, "docker/Dockerfile"), "FROM scratch\n")
	result := h.start()

	h.process(t).Exit(0)
	if err := testutil.RequireReceive(t, result, testTimeout, "launcher result"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if calls := h.runtime.recorded(); calls[0] != "build owner/mnist docker/Dockerfile" {
		t.Errorf("docker calls = %q", calls)
	}
	if len(h.store.committed) != 0 {
		t.Errorf("an existing dockerfile must not be regenerated, committed %q", h.store.committed)
	}
}

func TestRunBuildFailure(t *testing.T) {
	record := containerRecord("python:3.12")
	record.Config.Install = schema.Script{Line: "pip install nothing"}
	h := newHarness(t, record, Options{})
	h.runtime.buildError = &sandbox.ExitError{Command: "build", Code: 2}

	err := h.launcher.Run(context.Background(), nil)

	var exitError *ExitError
	if !errors.As(err, &exitError) || exitError.Code != 2 {
		t.Fatalf("Run error = %v, want exit code 2", err)
	}
	if !slices.Equal(h.store.failReasons, []string{"Image build error"}) {
		t.Errorf("fail reasons = %q", h.store.failReasons)
	}
}

func TestInterruptHostJob(t *testing.T) {
	h := newHarness(t, hostRecord("sleep 100"), Options{})
	result := h.start()
	process := h.process(t)

	testutil.RequireSend(t, h.signals, os.Signal(syscall.SIGINT), testTimeout, "first signal")
	testutil.RequireSend(t, h.signals, os.Signal(syscall.SIGTERM), testTimeout, "second signal")
	process.Exit(137)

	err := testutil.RequireReceive(t, result, testTimeout, "launcher result")
	if !IsAborted(err) {
		t.Fatalf("Run error = %v, want aborted", err)
	}
	var exitError *ExitError
	if !errors.As(err, &exitError) || exitError.Code != 0 {
		t.Errorf("Run error = %v, want exit code 0", err)
	}

	if signals := process.Signals(); len(signals) != 1 || signals[0] != syscall.SIGKILL {
		t.Errorf("process signals = %v, want only SIGKILL from the second interrupt", signals)
	}
	if len(h.runtime.recorded()) != 0 {
		t.Errorf("host job ran docker: %v", h.runtime.recorded())
	}
	if !h.store.hasCall("abort") || h.store.hasCall("stop") || h.store.hasCall("fail") {
		t.Errorf("store calls = %v, want abort only", h.store.calls)
	}
	if h.output.committed != 1 {
		t.Errorf("output log committed %d times, want 1", h.output.committed)
	}
}

func TestInterruptContainerJobWithProgress(t *testing.T) {
	h := newHarness(t, containerRecord("python:3.12"), Options{})
	h.store.progress = true
	result := h.start()
	process := h.process(t)

	testutil.RequireSend(t, h.signals, os.Signal(syscall.SIGINT), testTimeout, "signal")
	process.Exit(130)

	h.clock.WaitForTimers(1)
	if calls := h.runtime.recorded(); calls[len(calls)-1] != "kill INT job-1" {
		t.Fatalf("docker calls = %q, want kill --signal INT before the grace sleep", calls)
	}
	h.clock.Advance(time.Second)

	err := testutil.RequireReceive(t, result, testTimeout, "launcher result")
	if !IsAborted(err) {
		t.Fatalf("Run error = %v, want aborted", err)
	}
	var exitError *ExitError
	if !errors.As(err, &exitError) || exitError.ExitCode() != 0 {
		t.Errorf("Run error = %v, want exit code 0 so the daemon does not report the job failed", err)
	}
	if calls := h.runtime.recorded(); calls[len(calls)-1] != "stop job-1" {
		t.Errorf("docker calls = %q, want stop after the grace sleep", calls)
	}
	if !h.store.hasCall("stop") || h.store.hasCall("abort") {
		t.Errorf("store calls = %v, want stop for a job that reported progress", h.store.calls)
	}
	if len(process.Signals()) != 0 {
		t.Error("a single interrupt must not signal the docker client")
	}
}
