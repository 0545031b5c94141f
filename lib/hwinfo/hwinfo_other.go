// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package hwinfo

import (
	"errors"
	"runtime"
	"time"

	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

type netCounters struct {
	received uint64
	sent     uint64
}

// Inventory reports the logical core count; nothing else is probed
// outside Linux.
func (c *Collector) Inventory() schema.Inventory {
	return schema.Inventory{
		CPU:   [2]uint64{0, uint64(runtime.NumCPU())},
		Nets:  map[string]int{},
		Disks: map[string]uint64{},
	}
}

// Utilization returns an empty snapshot outside Linux.
func (c *Collector) Utilization(previous Baseline, now time.Time) (schema.Utilization, Baseline) {
	return schema.Utilization{
		Disks: map[string]uint64{},
		Nets:  map[string]schema.NetworkUsage{},
	}, Baseline{time: now}
}

func statfs(string) (DiskUsage, error) {
	return DiskUsage{}, errors.New("statfs is only implemented on linux")
}
