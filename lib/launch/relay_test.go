// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestLineWriterBuffersPartialLines(t *testing.T) {
	var relay Relay
	var out bytes.Buffer
	writer := relay.Writer(&out, "[job] ")

	writer.Write([]byte("first"))
	if out.Len() != 0 {
		t.Fatalf("partial line was emitted early: %q", out.String())
	}
	writer.Write([]byte(" line\nsecond line\nthi"))
	if got := out.String(); got != "[job] first line\n[job] second line\n" {
		t.Errorf("after write: %q", got)
	}
	writer.Flush()
	if got := out.String(); !strings.HasSuffix(got, "[job] thi\n") {
		t.Errorf("after flush: %q", got)
	}

	before := out.Len()
	writer.Flush()
	if out.Len() != before {
		t.Error("second flush emitted output")
	}
}

func TestRelayKeepsLinesWhole(t *testing.T) {
	var relay Relay
	var out bytes.Buffer
	stdout := relay.Writer(&out, "")
	stderr := relay.Writer(&out, "")

	var group sync.WaitGroup
	for i, writer := range []*LineWriter{stdout, stderr} {
		group.Add(1)
		go func() {
			defer group.Done()
			for j := range 200 {
				// Split each line across two writes.
				fmt.Fprintf(writer, "stream%d-", i)
				fmt.Fprintf(writer, "%03d\n", j)
			}
		}()
	}
	group.Wait()

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 400 {
		t.Fatalf("got %d lines, want 400", len(lines))
	}
	for _, line := range lines {
		if len(line) != len("stream0-000") {
			t.Fatalf("interleaved line %q", line)
		}
	}
}

func TestJobPrefix(t *testing.T) {
	if got := JobPrefix("job-1", false); got != "[job-1] " {
		t.Errorf("JobPrefix without color = %q", got)
	}
	colored := JobPrefix("job-1", true)
	if !strings.Contains(colored, "\x1b[") || !strings.Contains(colored, "[job-1]") {
		t.Errorf("JobPrefix with color = %q, want escape sequences", colored)
	}
}
