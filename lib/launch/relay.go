// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"bytes"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Relay serializes line-oriented output from several child streams,
// so lines from stdout and stderr never interleave mid-line even when
// they share a destination. The zero value is ready to use.
type Relay struct {
	mu sync.Mutex
}

// Writer returns a stream that buffers partial lines and writes each
// complete line to out, preceded by prefix.
func (r *Relay) Writer(out io.Writer, prefix string) *LineWriter {
	return &LineWriter{relay: r, out: out, prefix: []byte(prefix)}
}

// LineWriter is one stream of a Relay. Call Flush after the producer
// is done to emit a trailing partial line.
type LineWriter struct {
	relay   *Relay
	out     io.Writer
	prefix  []byte
	pending []byte
}

// Write implements io.Writer. It always consumes all of p; errors from
// the underlying writer are returned but the stream stays usable.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.relay.mu.Lock()
	defer w.relay.mu.Unlock()

	w.pending = append(w.pending, p...)
	var writeError error
	for {
		index := bytes.IndexByte(w.pending, '\n')
		if index < 0 {
			break
		}
		if err := w.emitLocked(w.pending[:index+1]); err != nil && writeError == nil {
			writeError = err
		}
		w.pending = w.pending[index+1:]
	}
	return len(p), writeError
}

// Flush writes any buffered partial line, terminated by a newline.
func (w *LineWriter) Flush() error {
	w.relay.mu.Lock()
	defer w.relay.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	line := append(w.pending, '\n')
	w.pending = nil
	return w.emitLocked(line)
}

func (w *LineWriter) emitLocked(line []byte) error {
	if len(w.prefix) > 0 {
		line = append(append([]byte(nil), w.prefix...), line...)
	}
	_, err := w.out.Write(line)
	return err
}

// JobPrefix returns the "[<job-id>] " prefix the daemon puts on
// relayed job output, colored when colorize is set.
func JobPrefix(jobID string, colorize bool) string {
	prefix := color.New(color.FgCyan, color.Bold)
	if colorize {
		prefix.EnableColor()
	} else {
		prefix.DisableColor()
	}
	return prefix.Sprintf("[%s]", jobID) + " "
}
