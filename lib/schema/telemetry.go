// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Inventory is the static description of the machine, sent once after
// every registration as the values of a system message.
type Inventory struct {
	// MemoryTotal is physical memory in bytes.
	MemoryTotal uint64 `cbor:"memory_total"`

	CPUName string `cbor:"cpu_name"`

	// CPU is [frequency in Hz, logical core count].
	CPU [2]uint64 `cbor:"cpu"`

	// Nets maps each up, non-loopback interface to its link speed in
	// Mbit/s.
	Nets map[string]int `cbor:"nets"`

	// Disks maps each physical mount to its size in bytes.
	Disks map[string]uint64 `cbor:"disks"`

	// BootTime is the boot time in Unix seconds.
	BootTime int64 `cbor:"boot_time"`
}

// Utilization is a periodic snapshot, sent every tick as the values of
// a utilization message.
type Utilization struct {
	// CPU is busy percent per logical core since the previous snapshot.
	CPU []float64 `cbor:"cpu"`

	// Memory is used memory in percent.
	Memory float64 `cbor:"memory"`

	// Disks maps each physical mount to bytes used.
	Disks map[string]uint64 `cbor:"disks"`

	Jobs JobCounts `cbor:"jobs"`

	Nets map[string]NetworkUsage `cbor:"nets"`

	// Processes lists processes above one percent CPU or memory.
	Processes []ProcessUsage `cbor:"processes"`

	// LoadAverage is the 1, 5, and 15 minute load average.
	LoadAverage [3]float64 `cbor:"loadavg"`
}

// JobCounts is the agent's scheduling state inside a Utilization.
type JobCounts struct {
	Parallel int `cbor:"parallel"`
	Enqueued int `cbor:"enqueued"`
	Running  int `cbor:"running"`
}

// NetworkUsage holds cumulative counters and per-second rates derived
// from the previous snapshot. Rates are zero on the first snapshot.
type NetworkUsage struct {
	Received uint64  `cbor:"recv"`
	Sent     uint64  `cbor:"sent"`
	Upload   float64 `cbor:"upload"`
	Download float64 `cbor:"download"`
}

// ProcessUsage encodes as a positional array, which is the shape the
// control plane's process table expects.
type ProcessUsage struct {
	_ struct{} `cbor:",toarray"`

	PID           int
	Name          string
	User          string
	CreateTime    int64
	Status        string
	Threads       int
	MemoryPercent float64
	CPUPercent    float64
}
