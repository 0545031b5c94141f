// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds shared test helpers.
//
// [RequireReceive] and [RequireSend] wrap the select with a wall-clock
// fallback so a broken test fails instead of hanging. They are the only
// place tests use real time; everything else drives lib/clock.Fake.
//
// [SocketDir] and [WriteFile] build throwaway filesystem layouts.
package testutil
