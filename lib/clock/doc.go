// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the agent. Production code takes a
// Clock and passes Real(); tests pass Fake() and call Advance.
package clock
