// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"maps"
	"runtime"
	"slices"
	"strings"

	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

// Paths inside the job container.
const (
	ContainerWorkDir    = "/job"
	ContainerStorageDir = "/aetros"
	ContainerHomeConfig = "/aetros/aetros.yml"
)

// RunOptions describes one job container.
type RunOptions struct {
	// Binary is the docker client executable.
	Binary string

	// Name is the container name. The job id, so a stale container
	// from an earlier attempt can be found and removed.
	Name string

	// Image is the image to run.
	Image string

	// ExtraOptions are operator-configured flags inserted right after
	// the container name.
	ExtraOptions []string

	// WorkTree is the host path of the job's checked-out files.
	WorkTree string

	// StoragePath is the host path of the job's state repository.
	StoragePath string

	// Model is the job's model name; the state repository is mounted
	// at /aetros/<Model>.git.
	Model string

	// HomeConfig is the host path of the agent's home configuration.
	// Empty when the file does not exist.
	HomeConfig string

	// Env is the job environment. Every key is forwarded by name, so
	// the docker client must run with these values in its own
	// environment.
	Env map[string]string

	// Volumes are passed through as -v arguments.
	Volumes []string

	Resources *schema.Resources

	// GPUDevices are device indices to expose. Honored on Linux only.
	GPUDevices []string

	// GOOS overrides runtime.GOOS. Tests only.
	GOOS string

	Command schema.Script
}

// Invocation is a resolved docker run command line.
type Invocation struct {
	// Args is the full argv, starting with the docker binary.
	Args []string

	// Env is RunOptions.Env plus the container path variables. The
	// docker client must see all of it.
	Env map[string]string
}

// BuildRun assembles the docker run invocation for opts.
func BuildRun(opts RunOptions) (Invocation, error) {
	switch {
	case opts.Name == "":
		return Invocation{}, errors.New("container name is required")
	case opts.Image == "":
		return Invocation{}, errors.New("image is required")
	case opts.WorkTree == "" || opts.StoragePath == "":
		return Invocation{}, errors.New("work tree and storage path are required")
	case opts.Command.IsZero():
		return Invocation{}, errors.New("command is required")
	}

	binary := opts.Binary
	if binary == "" {
		binary = "docker"
	}
	env := maps.Clone(opts.Env)
	if env == nil {
		env = make(map[string]string)
	}

	args := []string{binary, "run", "-t", "--name", opts.Name}
	args = append(args, opts.ExtraOptions...)

	env["AETROS_GIT_WORK_DIR"] = ContainerWorkDir
	args = append(args, "--mount", bindMount(opts.WorkTree, ContainerWorkDir, false))

	env["AETROS_STORAGE_DIR"] = ContainerStorageDir
	args = append(args, "--mount", bindMount(opts.StoragePath, ContainerStorageDir+"/"+opts.Model+".git", false))

	if opts.HomeConfig != "" {
		env["AETROS_HOME_CONFIG_FILE"] = ContainerHomeConfig
		args = append(args, "--mount", bindMount(opts.HomeConfig, ContainerHomeConfig, true))
	}

	args = append(args, "-w", ContainerWorkDir)

	for _, key := range slices.Sorted(maps.Keys(env)) {
		args = append(args, "-e", key)
	}
	for _, volume := range opts.Volumes {
		args = append(args, "-v", volume)
	}

	args = append(args, ResourceFlags(opts.Resources)...)
	args = append(args, gpuFlags(opts.GPUDevices, opts.GOOS)...)

	args = append(args, opts.Image)
	if opts.Command.IsList() {
		args = append(args, opts.Command.Lines...)
	} else {
		args = append(args, WrapShellCommand(opts.Command.Line)...)
	}

	return Invocation{Args: args, Env: env}, nil
}

func bindMount(source, destination string, readOnly bool) string {
	mount := "type=bind,source=" + source + ",destination=" + destination
	if readOnly {
		mount += ",readonly"
	}
	return mount
}

// gpuFlags exposes the NVIDIA runtime restricted to devices. Other
// platforms have no GPU passthrough and get no flags.
func gpuFlags(devices []string, goos string) []string {
	if goos == "" {
		goos = runtime.GOOS
	}
	if len(devices) == 0 || goos != "linux" {
		return nil
	}
	flags := []string{
		"--runtime", "nvidia",
		"-e", "NVIDIA_VISIBLE_DEVICES=" + strings.Join(devices, ","),
	}
	for _, device := range devices {
		flags = append(flags, "--device", "/dev/nvidia"+device)
	}
	return flags
}
