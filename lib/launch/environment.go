// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

// ServerCommand is the argv the daemon spawns for job: the agent's
// own executable re-entered through the start command.
func ServerCommand(executable string, job schema.Job) []string {
	return []string{executable, "start", job.ID, "--api-key=" + job.APIKey}
}

// ServerEnv is the environment of a daemon-spawned job: environ with
// cwd appended to PYTHONPATH and the job identity variables set.
func ServerEnv(environ []string, cwd string, job schema.Job) []string {
	env := environToMap(environ)
	env["PYTHONPATH"] = env["PYTHONPATH"] + ":" + cwd
	env["AETROS_JOB_ID"] = job.ID
	env["AETROS_MODEL_ID"] = job.ModelID
	env["AETROS_API_KEY"] = job.APIKey
	return mapToEnviron(env)
}

// ParseEnvFlags parses KEY=VALUE pairs given with --env.
func ParseEnvFlags(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q: expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

// EncodeSSHKey validates the private key at path and returns it
// base64-encoded for AETROS_SSH_KEY_BASE64. Passphrase-protected keys
// are accepted as they are; the job decides how to unlock them.
func EncodeSSHKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading ssh key: %w", err)
	}
	if _, err := ssh.ParsePrivateKey(data); err != nil {
		var missing *ssh.PassphraseMissingError
		if !errors.As(err, &missing) {
			return "", fmt.Errorf("parsing ssh key %s: %w", path, err)
		}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func environToMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		env[key] = value
	}
	return env
}

// mapToEnviron returns KEY=VALUE entries in sorted key order.
func mapToEnviron(env map[string]string) []string {
	environ := make([]string, 0, len(env))
	for _, key := range slices.Sorted(maps.Keys(env)) {
		environ = append(environ, key+"="+env[key])
	}
	return environ
}
