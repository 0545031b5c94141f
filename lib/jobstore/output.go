// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// OutputLog is the job's combined stdout/stderr, stored zstd-compressed
// in the work tree. Writes are safe from several relay goroutines.
type OutputLog struct {
	store   *Store
	file    *os.File
	encoder *zstd.Encoder

	mu     sync.Mutex
	closed bool
}

// OpenOutputLog creates (or truncates) the job's output log.
func (s *Store) OpenOutputLog() (*OutputLog, error) {
	full := filepath.Join(s.WorkTree(), filepath.FromSlash(OutputLogPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("creating output log directory: %w", err)
	}
	file, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("creating output log: %w", err)
	}
	encoder, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("creating output log encoder: %w", err)
	}
	return &OutputLog{store: s, file: file, encoder: encoder}, nil
}

// Write appends p to the log.
func (l *OutputLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, os.ErrClosed
	}
	return l.encoder.Write(p)
}

// Commit finalizes the compressed stream and commits the log to the
// job ref. The log cannot be written afterwards.
func (l *OutputLog) Commit(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	closeError := errors.Join(l.encoder.Close(), l.file.Close())
	l.mu.Unlock()

	if closeError != nil {
		return fmt.Errorf("closing output log: %w", closeError)
	}
	return l.store.CommitFile(ctx, OutputLogPath)
}
