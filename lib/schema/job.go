// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Job is one unit of work pushed by the control plane in start-jobs.
// Lifecycle (queued, running, finished) is derived from where the job
// currently lives in the agent, not stored here.
type Job struct {
	// ID is globally unique.
	ID string `cbor:"id"`

	// ModelID names the model owning the job ("owner/name").
	ModelID string `cbor:"modelId"`

	// Index is the ordinal of the job within its model's history.
	Index int `cbor:"index"`

	// Priority is carried through but never used to reorder the queue.
	Priority int `cbor:"priority"`

	Username string `cbor:"username"`

	// APIKey is a credential scoped to this job. It is passed to the
	// job process and never logged.
	APIKey string `cbor:"apiKey"`
}

// JobRecord is the job document stored in the job state store at
// aetros/job.json. The launcher reads it after checking out the job.
type JobRecord struct {
	ID string `json:"id"`

	// Model is "owner/name". It also names the image built for the job.
	Model string `json:"model"`

	Config JobConfig `json:"config"`

	// Resources is the assignment made by the control plane. Nil when
	// the job runs without container resource limits.
	Resources *Resources `json:"resources,omitempty"`
}

// JobConfig is the user's job configuration (aetros.yml, as resolved
// by the control plane).
type JobConfig struct {
	// Command runs inside the job's environment. A string runs through
	// sh -c; a list is executed directly.
	Command Script `json:"command"`

	// Image is the container image. Empty runs the command on the host
	// unless Dockerfile or Install is set.
	Image string `json:"image,omitempty"`

	// Dockerfile is either a path to an existing file in the work tree,
	// inline content as one string, or inline content as lines.
	Dockerfile Script `json:"dockerfile,omitempty"`

	// Install lists shell steps layered onto Image, one RUN each.
	Install Script `json:"install,omitempty"`

	// Parameters are substituted into Command as {{name}} placeholders.
	// Nested maps are addressed with dotted names.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Resources is a container resource assignment.
type Resources struct {
	// CPU is the number of cores. Zero means one.
	CPU float64 `json:"cpu,omitempty"`

	// Memory is in gibibytes. Zero means one.
	Memory float64 `json:"memory,omitempty"`
}

// Script is a configuration value that may be written either as one
// string or as a list of strings. The two forms mean different things
// for a command (shell string versus argv), so the form is preserved.
type Script struct {
	Line  string
	Lines []string
}

// IsList reports whether the value was given in list form.
func (s Script) IsList() bool { return s.Lines != nil }

// IsZero reports whether the value is absent.
func (s Script) IsZero() bool { return s.Line == "" && len(s.Lines) == 0 }

// Words returns the value in list form. A string value becomes a
// single element.
func (s Script) Words() []string {
	if s.IsList() {
		return append([]string(nil), s.Lines...)
	}
	if s.Line == "" {
		return nil
	}
	return []string{s.Line}
}

// MarshalJSON writes the form the value was read in.
func (s Script) MarshalJSON() ([]byte, error) {
	if s.IsList() {
		return json.Marshal(s.Lines)
	}
	return json.Marshal(s.Line)
}

// UnmarshalJSON accepts a string, a list of strings, or null.
func (s *Script) UnmarshalJSON(data []byte) error {
	*s = Script{}
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var lines []string
		if err := json.Unmarshal(trimmed, &lines); err != nil {
			return fmt.Errorf("script list: %w", err)
		}
		if lines == nil {
			lines = []string{}
		}
		s.Lines = lines
		return nil
	default:
		if err := json.Unmarshal(trimmed, &s.Line); err != nil {
			return fmt.Errorf("script must be a string or a list of strings: %w", err)
		}
		return nil
	}
}
