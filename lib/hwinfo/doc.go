// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo collects the machine telemetry the agent reports to
// the control plane.
//
// # Static inventory
//
// [Collector.Inventory] reads memory, CPU model and frequency, network
// links, physical disks and boot time from /proc and /sys. It is sent
// once after every registration.
//
// # Utilization
//
// [Collector.Utilization] produces a per-tick snapshot: per-core CPU
// percent from /proc/stat deltas, memory percent, disk usage, network
// counters and rates from /proc/net/dev, busy processes and the load
// average. Deltas are computed against the [Baseline] returned by the
// previous call.
//
// Every reading is best effort. A file that cannot be read or parsed
// leaves its field zero; collection never fails as a whole.
//
// The /proc and /sys roots are fields of [Collector] so tests can point
// them at synthetic trees. On platforms other than Linux both
// operations return only what the Go runtime knows.
package hwinfo
