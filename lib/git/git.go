// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for a job's state
// repository. A job keeps its history in a bare repository and its
// files in a separate work tree, so every command is issued as
// "git --git-dir <repo> --work-tree <tree>". The same prefix is handed
// to the job process (AETROS_GIT) so it can commit on its own.
package git

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Repository is a bare git directory paired with a work tree.
type Repository struct {
	gitDir   string
	workTree string
	env      []string
}

// NewRepository returns a Repository for gitDir and workTree. workTree
// may be empty for commands that only touch the object database.
func NewRepository(gitDir, workTree string) *Repository {
	return &Repository{gitDir: gitDir, workTree: workTree}
}

// WithEnv returns a copy of r whose commands additionally run with the
// given KEY=VALUE entries (for example GIT_INDEX_FILE).
func (r *Repository) WithEnv(entries ...string) *Repository {
	clone := *r
	clone.env = append(append([]string(nil), r.env...), entries...)
	return &clone
}

// GitDir returns the bare repository path.
func (r *Repository) GitDir() string {
	return r.gitDir
}

// WorkTree returns the work tree path.
func (r *Repository) WorkTree() string {
	return r.workTree
}

// BaseArgs returns the git argv prefix targeting this repository.
func (r *Repository) BaseArgs() []string {
	args := []string{"git", "--git-dir", r.gitDir}
	if r.workTree != "" {
		args = append(args, "--work-tree", r.workTree)
	}
	return args
}

// BaseCommand returns BaseArgs joined for use in a shell.
func (r *Repository) BaseCommand() string {
	return strings.Join(r.BaseArgs(), " ")
}

// Run executes a git command and returns stdout. Stderr is included in
// the error on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	return r.RunInput(ctx, nil, args...)
}

// RunInput is Run with stdin attached.
func (r *Repository) RunInput(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := r.Command(ctx, args...)
	command.Stdin = stdin
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.gitDir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Command returns an unstarted *exec.Cmd for a git command. The
// repository flags and environment are already applied, and the
// command runs inside the work tree so pathspecs are tree-relative.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	base := r.BaseArgs()
	command := exec.CommandContext(ctx, base[0], append(base[1:], args...)...)
	command.Dir = r.workTree
	if len(r.env) > 0 {
		command.Env = append(os.Environ(), r.env...)
	}
	return command
}

// InitBare creates a bare repository at dir if none exists. It is
// idempotent: git init on an existing repository only reinitializes
// templates.
func InitBare(ctx context.Context, dir string) error {
	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", "init", "--bare", "--quiet", dir)
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("git init --bare %s: %w (stderr: %s)", dir, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
