// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"strconv"

	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

const gibibyte = 1024 * 1024 * 1024

// ResourceFlags translates a resource assignment into docker run flags.
// CPU and memory default to one core and one GiB when unset. Returns
// nil for a nil assignment: the container then runs unlimited.
func ResourceFlags(resources *schema.Resources) []string {
	if resources == nil {
		return nil
	}
	cpus := resources.CPU
	if cpus <= 0 {
		cpus = 1
	}
	memory := resources.Memory
	if memory <= 0 {
		memory = 1
	}
	return []string{
		"--cpus", strconv.FormatFloat(cpus, 'f', -1, 64),
		"--memory", strconv.FormatInt(MemoryBytes(memory), 10),
	}
}

// MemoryBytes converts gibibytes to bytes.
func MemoryBytes(gib float64) int64 {
	return int64(gib * gibibyte)
}
