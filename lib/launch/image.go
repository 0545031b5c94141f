// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/aetros-agent/lib/schema"
	"github.com/bureau-foundation/aetros-agent/sandbox"
)

// acquireImage builds or pulls the job's image and returns its name.
// An empty name means the job runs on the host. Failures are recorded
// in the store and returned as *ExitError.
func (l *Launcher) acquireImage(ctx context.Context, record schema.JobRecord) (string, error) {
	config := record.Config
	if sandbox.NeedsBuild(config) {
		return l.buildImage(ctx, record)
	}
	if config.Image == "" {
		return "", nil
	}

	l.logger.Info("pulling image", "image", config.Image)
	err := l.runtime.Pull(ctx, config.Image, l.outputStdout, l.outputStderr)
	l.flushOutput()
	if err != nil {
		l.logger.Error("image pull failed", "image", config.Image, "error", err)
		return "", l.fail(ctx, exitCodeOf(err), "Image pull error")
	}
	return config.Image, nil
}

// buildImage builds the job's Dockerfile, generating one from inline
// content or install steps when the configuration does not name an
// existing file. The image is tagged with the model name.
func (l *Launcher) buildImage(ctx context.Context, record schema.JobRecord) (string, error) {
	config := record.Config
	workTree := l.store.WorkTree()

	var dockerfile string
	if !config.Dockerfile.IsList() && config.Dockerfile.Line != "" && !strings.Contains(config.Dockerfile.Line, "\n") {
		info, err := os.Stat(filepath.Join(workTree, config.Dockerfile.Line))
		if err == nil && !info.IsDir() {
			dockerfile = config.Dockerfile.Line
		}
	}

	if dockerfile == "" {
		content, err := sandbox.RenderDockerfile(config)
		if err != nil {
			return "", l.fail(ctx, 1, err.Error())
		}
		if err := os.WriteFile(filepath.Join(workTree, sandbox.GeneratedDockerfile), []byte(content), 0o644); err != nil {
			return "", l.fail(ctx, 1, fmt.Sprintf("writing %s: %v", sandbox.GeneratedDockerfile, err))
		}
		dockerfile = sandbox.GeneratedDockerfile
		if err := l.store.CommitFile(ctx, dockerfile); err != nil {
			l.logger.Warn("committing generated dockerfile failed", "error", err)
		}
	}

	digest, err := fileDigest(filepath.Join(workTree, dockerfile))
	if err != nil {
		return "", l.fail(ctx, 1, err.Error())
	}
	err = l.store.Batch(ctx, "Dockerfile", func() error {
		if err := l.store.SetSystemInfo(ctx, "image/dockerfile", dockerfile); err != nil {
			return err
		}
		return l.store.SetSystemInfo(ctx, "image/dockerfile_hash", digest)
	})
	if err != nil {
		l.logger.Warn("recording dockerfile failed", "error", err)
	}

	tag := imageTag(record)
	l.logger.Info("building image", "tag", tag, "dockerfile", dockerfile)
	err = l.runtime.Build(ctx, workTree, tag, dockerfile, l.outputStdout, l.outputStderr)
	l.flushOutput()
	if err != nil {
		l.logger.Error("image build failed", "error", err)
		return "", l.fail(ctx, exitCodeOf(err), "Image build error")
	}
	return tag, nil
}

// recordImage stores the image metadata docker reports, in one commit.
func (l *Launcher) recordImage(ctx context.Context, image string) {
	inspection, ok, err := l.runtime.Inspect(ctx, image)
	if err != nil {
		l.logger.Warn("inspecting image failed", "image", image, "error", err)
		return
	}
	if !ok {
		return
	}

	facts := []struct {
		key   string
		value any
	}{
		{"image/id", inspection.ID},
		{"image/docker_version", inspection.DockerVersion},
		{"image/created", inspection.Created},
		{"image/container", inspection.Container},
		{"image/architecture", inspection.Architecture},
		{"image/os", inspection.OS},
		{"image/size", inspection.Size},
		{"image/rootfs", inspection.RootFS},
	}
	err = l.store.Batch(ctx, "Docker image", func() error {
		for _, fact := range facts {
			if err := l.store.SetSystemInfo(ctx, fact.key, fact.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("recording image metadata failed", "error", err)
	}
}

// imageTag names the built image after the model. Docker repository
// names must be lower case.
func imageTag(record schema.JobRecord) string {
	if record.Model == "" {
		return "aetros-job-" + strings.ToLower(record.ID)
	}
	return strings.ToLower(record.Model)
}

// fileDigest returns the hex BLAKE3-256 digest of a file.
func fileDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// exitCodeOf returns the exit code carried by a runtime error, or 1.
func exitCodeOf(err error) int {
	if code, ok := sandbox.IsExitError(err); ok && code > 0 {
		return code
	}
	return 1
}
