// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes one docker client command. A non-zero exit must be
// returned as an *ExitError.
type Runner interface {
	Run(ctx context.Context, dir string, args []string, stdout, stderr io.Writer) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir string, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return &ExitError{Command: subcommand(args), Code: exitError.ExitCode()}
		}
		return fmt.Errorf("running %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func subcommand(args []string) string {
	if len(args) < 2 {
		return ""
	}
	return args[1]
}

// ImageInspection is the subset of "docker inspect" output recorded
// for a job.
type ImageInspection struct {
	ID            string          `json:"Id"`
	DockerVersion string          `json:"DockerVersion"`
	Created       string          `json:"Created"`
	Container     string          `json:"Container"`
	Architecture  string          `json:"Architecture"`
	OS            string          `json:"Os"`
	Size          int64           `json:"Size"`
	RootFS        json.RawMessage `json:"RootFS"`
}

// Docker drives the docker client.
type Docker struct {
	binary string
	runner Runner
	logger *slog.Logger
}

// NewDocker returns a Docker using binary ("docker" when empty).
func NewDocker(binary string, runner Runner, logger *slog.Logger) *Docker {
	if binary == "" {
		binary = "docker"
	}
	return &Docker{binary: binary, runner: runner, logger: logger}
}

// Binary returns the docker client executable.
func (d *Docker) Binary() string {
	return d.binary
}

func (d *Docker) run(ctx context.Context, dir string, stdout, stderr io.Writer, args ...string) error {
	command := append([]string{d.binary}, args...)
	d.logger.Info("running container command", "command", strings.Join(command, " "))
	return d.runner.Run(ctx, dir, command, stdout, stderr)
}

// Build builds dockerfile in contextDir and tags it.
func (d *Docker) Build(ctx context.Context, contextDir, tag, dockerfile string, stdout, stderr io.Writer) error {
	return d.run(ctx, contextDir, stdout, stderr, "build", "-t", tag, "-f", dockerfile, ".")
}

// Pull fetches image.
func (d *Docker) Pull(ctx context.Context, image string, stdout, stderr io.Writer) error {
	return d.run(ctx, "", stdout, stderr, "pull", image)
}

// Inspect returns the metadata of image. ok is false when docker
// returned an empty list.
func (d *Docker) Inspect(ctx context.Context, image string) (inspection ImageInspection, ok bool, err error) {
	var stdout, stderr bytes.Buffer
	if err := d.run(ctx, "", &stdout, &stderr, "inspect", image); err != nil {
		return ImageInspection{}, false, fmt.Errorf("inspecting %s: %w: %s", image, err, strings.TrimSpace(stderr.String()))
	}
	var inspections []ImageInspection
	if err := json.Unmarshal(stdout.Bytes(), &inspections); err != nil {
		return ImageInspection{}, false, fmt.Errorf("decoding inspect output for %s: %w", image, err)
	}
	if len(inspections) == 0 {
		return ImageInspection{}, false, nil
	}
	return inspections[0], true, nil
}

// Remove deletes a container by name.
func (d *Docker) Remove(ctx context.Context, name string) error {
	return d.run(ctx, "", io.Discard, io.Discard, "rm", name)
}

// Kill sends signal (for example "INT") to the container's first
// process.
func (d *Docker) Kill(ctx context.Context, name, signal string) error {
	return d.run(ctx, "", io.Discard, io.Discard, "kill", "--signal", signal, name)
}

// Stop stops the container, killing it after docker's grace period.
func (d *Docker) Stop(ctx context.Context, name string) error {
	return d.run(ctx, "", io.Discard, io.Discard, "stop", name)
}
