// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobstore is the versioned state store of one job.
//
// Each job owns a bare git repository (<root>/<id>.git) and a work tree
// (<root>/<id>). All job state lives on a single ref,
// refs/aetros/job/<id>: the job record, files the launcher generates,
// system-info facts, the output log, and the terminal status. The job
// process itself commits to the same ref through the AETROS_GIT
// command, so the store commits with plumbing commands against its own
// index file and re-reads the ref before every commit.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bureau-foundation/aetros-agent/lib/clock"
	"github.com/bureau-foundation/aetros-agent/lib/git"
	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

// Well-known paths inside a job tree.
const (
	RecordPath    = "aetros/job.json"
	StatusPath    = "aetros/job/status/status.json"
	ProgressPath  = "aetros/job/status/progress.json"
	ErrorPath     = "aetros/job/error.json"
	SystemInfoDir = "aetros/job/system"
	OutputLogPath = "aetros/job/output.log.zst"
)

// Terminal statuses written by the launcher.
const (
	StatusFailed  = "failed"
	StatusAborted = "aborted"
	StatusStopped = "stopped"
)

// Options configures where job state lives.
type Options struct {
	// Root holds every job's repository and work tree.
	Root string

	// Remote is the URL jobs are fetched from and pushed to. The
	// placeholder {id} is replaced with the job id. Empty keeps state
	// local.
	Remote string

	// AuthorName and AuthorEmail sign the store's commits.
	AuthorName  string
	AuthorEmail string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Store is the state store of one job. Its methods may be called from
// the launcher's goroutines concurrently; commits are serialized.
type Store struct {
	id         string
	ref        string
	remote     string
	repository *git.Repository
	clock      clock.Clock
	logger     *slog.Logger

	mu           sync.Mutex
	record       schema.JobRecord
	batchDepth   int
	batchPending []string
}

// Open prepares the repository for job id, creating it on first use.
func Open(ctx context.Context, options Options, id string) (*Store, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if options.Root == "" {
		return nil, errors.New("job store root is required")
	}
	gitDir := filepath.Join(options.Root, id+".git")
	workTree := filepath.Join(options.Root, id)

	if err := os.MkdirAll(workTree, 0o755); err != nil {
		return nil, fmt.Errorf("creating work tree for job %s: %w", id, err)
	}
	if err := git.InitBare(ctx, gitDir); err != nil {
		return nil, err
	}

	name := options.AuthorName
	if name == "" {
		name = "AETROS Agent"
	}
	email := options.AuthorEmail
	if email == "" {
		email = "agent@aetros.local"
	}
	repository := git.NewRepository(gitDir, workTree).WithEnv(
		"GIT_INDEX_FILE="+filepath.Join(gitDir, "agent.index"),
		"GIT_AUTHOR_NAME="+name,
		"GIT_AUTHOR_EMAIL="+email,
		"GIT_COMMITTER_NAME="+name,
		"GIT_COMMITTER_EMAIL="+email,
	)

	return &Store{
		id:         id,
		ref:        "refs/aetros/job/" + id,
		remote:     strings.ReplaceAll(options.Remote, "{id}", id),
		repository: repository,
		clock:      options.Clock,
		logger:     options.Logger.With("job_id", id),
	}, nil
}

// ValidateID rejects ids that cannot name a directory under the root.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid job id %q", id)
	}
	return nil
}

// WorkTree returns the host path of the job's files.
func (s *Store) WorkTree() string { return s.repository.WorkTree() }

// StoragePath returns the host path of the job's bare repository.
func (s *Store) StoragePath() string { return s.repository.GitDir() }

// GitCommand returns the shell prefix the job process uses to reach
// its repository.
func (s *Store) GitCommand() string {
	return git.NewRepository(s.repository.GitDir(), s.repository.WorkTree()).BaseCommand()
}

// Job returns the record loaded by Restart.
func (s *Store) Job() schema.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Fetch updates the job ref from the remote. Without a remote the
// local ref is authoritative and Fetch does nothing.
func (s *Store) Fetch(ctx context.Context, id string) error {
	if id != s.id {
		return fmt.Errorf("store for job %s cannot fetch job %s", s.id, id)
	}
	if s.remote == "" {
		s.logger.Debug("no remote configured, using local job state")
		return nil
	}
	s.logger.Info("fetching job state", "remote", s.remote)
	if _, err := s.repository.Run(ctx, "fetch", "--quiet", s.remote, "+"+s.ref+":"+s.ref); err != nil {
		return fmt.Errorf("fetching job %s: %w", id, err)
	}
	return nil
}

// Restart checks the job ref out into the work tree and loads the job
// record.
func (s *Store) Restart(ctx context.Context, id string) error {
	if id != s.id {
		return fmt.Errorf("store for job %s cannot restart job %s", s.id, id)
	}
	if _, err := s.head(ctx); err != nil {
		return err
	}
	if _, err := s.repository.Run(ctx, "read-tree", s.ref); err != nil {
		return fmt.Errorf("reading job %s tree: %w", id, err)
	}
	if _, err := s.repository.Run(ctx, "checkout-index", "--all", "--force"); err != nil {
		return fmt.Errorf("checking out job %s: %w", id, err)
	}

	data, err := os.ReadFile(filepath.Join(s.WorkTree(), RecordPath))
	if err != nil {
		return fmt.Errorf("reading job record: %w", err)
	}
	var record schema.JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("decoding job record: %w", err)
	}
	if record.ID == "" {
		record.ID = id
	}

	s.mu.Lock()
	s.record = record
	s.mu.Unlock()
	s.logger.Info("job checked out", "model", record.Model, "work_tree", s.WorkTree())
	return nil
}

// Create writes record as the first commit of a job that does not yet
// exist. Used to start jobs that were not pushed by the control plane.
func (s *Store) Create(ctx context.Context, record schema.JobRecord) error {
	if _, err := s.head(ctx); err == nil {
		return fmt.Errorf("job %s already exists", s.id)
	}
	record.ID = s.id
	if err := s.writeJSON(RecordPath, record); err != nil {
		return err
	}
	return s.commit(ctx, "Job created", RecordPath)
}

// CommitFile commits one work tree file (path is tree-relative).
func (s *Store) CommitFile(ctx context.Context, path string) error {
	return s.commitOrDefer(ctx, "Added file "+path, path)
}

// SetSystemInfo records one fact about the job's execution environment
// as aetros/job/system/<key>.json. Keys may contain slashes.
func (s *Store) SetSystemInfo(ctx context.Context, key string, value any) error {
	if key == "" || strings.Contains(key, "..") {
		return fmt.Errorf("invalid system info key %q", key)
	}
	path := SystemInfoDir + "/" + key + ".json"
	if err := s.writeJSON(path, value); err != nil {
		return err
	}
	return s.commitOrDefer(ctx, "System info "+key, path)
}

// Batch runs fn and folds every commit it makes into a single commit
// with message. Batches nest; the outermost one commits. The commit is
// made even when fn fails, and fn's error is returned.
func (s *Store) Batch(ctx context.Context, message string, fn func() error) error {
	s.mu.Lock()
	s.batchDepth++
	s.mu.Unlock()

	runError := fn()

	s.mu.Lock()
	s.batchDepth--
	var pending []string
	if s.batchDepth == 0 {
		pending = s.batchPending
		s.batchPending = nil
	}
	s.mu.Unlock()

	if len(pending) > 0 {
		if err := s.commit(ctx, message, pending...); err != nil {
			return errors.Join(runError, err)
		}
	}
	return runError
}

// HasFile reports whether path exists in the latest job commit. That
// includes commits made by the job process.
func (s *Store) HasFile(ctx context.Context, path string) (bool, error) {
	if _, err := s.head(ctx); err != nil {
		return false, nil
	}
	if _, err := s.repository.Run(ctx, "cat-file", "-e", s.ref+":"+path); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

// Fail marks the job failed. reason may be empty when the exit code
// already tells the story.
func (s *Store) Fail(ctx context.Context, reason string) error {
	return s.finish(ctx, StatusFailed, reason)
}

// Abort marks the job aborted by an interrupt.
func (s *Store) Abort(ctx context.Context) error {
	return s.finish(ctx, StatusAborted, "")
}

// Stop marks the job stopped. Used after an interrupt when the job
// process had already started reporting progress itself.
func (s *Store) Stop(ctx context.Context) error {
	return s.finish(ctx, StatusStopped, "")
}

type statusDocument struct {
	Status string `json:"status"`
	Ended  int64  `json:"ended"`
}

type errorDocument struct {
	Message string `json:"message"`
}

func (s *Store) finish(ctx context.Context, status, reason string) error {
	s.logger.Info("job finished", "status", status, "reason", reason)
	err := s.Batch(ctx, "Job "+status, func() error {
		if err := s.writeJSON(StatusPath, statusDocument{Status: status, Ended: s.clock.Now().Unix()}); err != nil {
			return err
		}
		if err := s.commitOrDefer(ctx, "", StatusPath); err != nil {
			return err
		}
		if status != StatusFailed {
			return nil
		}
		if err := s.writeJSON(ErrorPath, errorDocument{Message: reason}); err != nil {
			return err
		}
		return s.commitOrDefer(ctx, "", ErrorPath)
	})
	if err != nil {
		return err
	}
	return s.Push(ctx)
}

// Push publishes the job ref to the remote, if any.
func (s *Store) Push(ctx context.Context) error {
	if s.remote == "" {
		return nil
	}
	if _, err := s.repository.Run(ctx, "push", "--quiet", s.remote, s.ref+":"+s.ref); err != nil {
		return fmt.Errorf("pushing job %s: %w", s.id, err)
	}
	return nil
}

func (s *Store) writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	full := filepath.Join(s.WorkTree(), filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (s *Store) commitOrDefer(ctx context.Context, message string, paths ...string) error {
	s.mu.Lock()
	if s.batchDepth > 0 {
		s.batchPending = append(s.batchPending, paths...)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.commit(ctx, message, paths...)
}

// head returns the commit the job ref points at.
func (s *Store) head(ctx context.Context) (string, error) {
	output, err := s.repository.Run(ctx, "rev-parse", "--verify", "--quiet", s.ref)
	if err != nil {
		return "", fmt.Errorf("job %s has no state: %w", s.id, err)
	}
	return strings.TrimSpace(output), nil
}

// commit adds paths on top of the current job ref and advances the ref.
// The update is a compare-and-swap against the parent so a concurrent
// commit from the job process is never overwritten.
func (s *Store) commit(ctx context.Context, message string, paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, headError := s.head(ctx)
	if headError == nil {
		if _, err := s.repository.Run(ctx, "read-tree", parent); err != nil {
			return fmt.Errorf("loading job tree: %w", err)
		}
	} else if _, err := s.repository.Run(ctx, "read-tree", "--empty"); err != nil {
		return fmt.Errorf("resetting job index: %w", err)
	}

	addArgs := append([]string{"add", "--force", "--"}, paths...)
	if _, err := s.repository.Run(ctx, addArgs...); err != nil {
		return fmt.Errorf("staging %s: %w", strings.Join(paths, ", "), err)
	}
	tree, err := s.repository.Run(ctx, "write-tree")
	if err != nil {
		return fmt.Errorf("writing tree: %w", err)
	}

	commitArgs := []string{"commit-tree", strings.TrimSpace(tree), "-m", message}
	if headError == nil {
		commitArgs = append(commitArgs, "-p", parent)
	}
	commit, err := s.repository.Run(ctx, commitArgs...)
	if err != nil {
		return fmt.Errorf("creating commit: %w", err)
	}

	updateArgs := []string{"update-ref", s.ref, strings.TrimSpace(commit)}
	if headError == nil {
		updateArgs = append(updateArgs, parent)
	}
	if _, err := s.repository.Run(ctx, updateArgs...); err != nil {
		return fmt.Errorf("advancing %s: %w", s.ref, err)
	}
	s.logger.Debug("committed job state", "message", message, "paths", paths)
	return nil
}
