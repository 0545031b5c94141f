// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"strings"

	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

// GeneratedDockerfile is the name of the build file written into the
// job work tree when the configuration carries inline build steps.
const GeneratedDockerfile = "Dockerfile.aetros"

const generatedHeader = "# CREATED BY AETROS because of \"install\" or \"dockerfile\" config in aetros.yml.\n"

// NeedsBuild reports whether the job configuration asks for an image
// build.
func NeedsBuild(config schema.JobConfig) bool {
	return !config.Dockerfile.IsZero() || !config.Install.IsZero()
}

// RenderDockerfile returns the content of the generated build file.
// Inline dockerfile content wins over install steps. Install steps
// need a base image.
func RenderDockerfile(config schema.JobConfig) (string, error) {
	var body string
	switch {
	case config.Dockerfile.IsList() && len(config.Dockerfile.Lines) > 0:
		body = strings.Join(config.Dockerfile.Lines, "\n")
	case !config.Dockerfile.IsList() && config.Dockerfile.Line != "":
		body = config.Dockerfile.Line
	default:
		if config.Image == "" {
			return "", errors.New("image name missing, since install is defined in aetros.yml")
		}
		var builder strings.Builder
		builder.WriteString("FROM " + config.Image)
		for _, step := range config.Install.Words() {
			builder.WriteString("\nRUN " + step)
		}
		body = builder.String()
	}
	return generatedHeader + body + "\n", nil
}
