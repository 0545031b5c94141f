// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the agent's YAML home configuration.
//
// The file is ~/aetros.yml unless AETROS_CONFIG or a --config flag names
// another one. A missing home file leaves the agent on [Default]; a
// missing explicitly named file is an error.
//
// After the file is merged over the defaults, API_HOST and API_PORT
// override the control plane address, and ${HOME}, ~/ and
// ${VAR:-default} patterns are expanded in path fields.
//
// Key exports:
//
//   - [Config] -- host, port, key, docker settings, storage, server, log
//   - [Default] -- defaults (port 8051, two parallel jobs, 1s tick)
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
