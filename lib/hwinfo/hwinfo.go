// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"
)

// DiskUsage is the capacity of one mounted filesystem in bytes.
type DiskUsage struct {
	Total uint64
	Used  uint64
}

// Collector reads telemetry from a /proc and /sys tree. It caches uid
// lookups and is not safe for concurrent use; the agent calls it from
// its control loop only.
type Collector struct {
	// ProcRoot and SysRoot default to /proc and /sys.
	ProcRoot string
	SysRoot  string

	// Statfs reports the capacity of the filesystem mounted at path.
	Statfs func(path string) (DiskUsage, error)

	// LookupUser resolves a numeric uid to a user name.
	LookupUser func(uid string) string

	users map[string]string
}

// NewCollector returns a Collector reading the live system.
func NewCollector() *Collector {
	return &Collector{
		ProcRoot:   "/proc",
		SysRoot:    "/sys",
		Statfs:     statfs,
		LookupUser: lookupUser,
	}
}

// Baseline carries the cumulative counters of one snapshot so the next
// snapshot can turn them into rates. The zero value is "no previous
// snapshot": all rates and CPU percentages come out as zero.
type Baseline struct {
	time      time.Time
	total     *CPUReading
	cores     []*CPUReading
	nets      map[string]netCounters
	processes map[int]uint64
}

// CPUReading captures cumulative CPU time from one /proc/stat line for
// delta computation:
//
//	cpu  user nice system idle iowait irq softirq steal guest guest_nice
//
// busy = user + nice + system + irq + softirq + steal
// idle = idle + iowait
//
// guest and guest_nice are already included in user/nice, so they are
// not added separately.
type CPUReading struct {
	Busy uint64
	Idle uint64
}

// Total returns busy plus idle jiffies.
func (r *CPUReading) Total() uint64 {
	return r.Busy + r.Idle
}

// CPUPercent computes utilization from two sequential readings of the
// same line. Returns 0 if either reading is nil or no time has passed.
func CPUPercent(previous, current *CPUReading) float64 {
	if previous == nil || current == nil {
		return 0
	}
	if current.Busy < previous.Busy || current.Idle < previous.Idle {
		return 0
	}
	busyDelta := current.Busy - previous.Busy
	idleDelta := current.Idle - previous.Idle
	totalDelta := busyDelta + idleDelta
	if totalDelta == 0 {
		return 0
	}
	return float64(busyDelta) / float64(totalDelta) * 100
}

// parseCPULine parses a "cpu" or "cpuN" line of /proc/stat. Returns nil
// unless the label and at least eight counters are present.
func parseCPULine(line string) *CPUReading {
	fields := strings.Fields(line)
	if len(fields) < 9 || !strings.HasPrefix(fields[0], "cpu") {
		return nil
	}

	values := make([]uint64, len(fields)-1)
	for i := 1; i < len(fields); i++ {
		parsed, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return nil
		}
		values[i-1] = parsed
	}

	// 0=user 1=nice 2=system 3=idle 4=iowait 5=irq 6=softirq 7=steal
	busy := values[0] + values[1] + values[2] + values[5] + values[6] + values[7]
	idle := values[3] + values[4]
	return &CPUReading{Busy: busy, Idle: idle}
}

// readString returns the trimmed contents of a small file, or "" on
// any error.
func readString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *Collector) userName(uid string) string {
	if name, ok := c.users[uid]; ok {
		return name
	}
	if c.users == nil {
		c.users = make(map[string]string)
	}
	name := uid
	if c.LookupUser != nil {
		name = c.LookupUser(uid)
	}
	c.users[uid] = name
	return name
}

func lookupUser(uid string) string {
	account, err := user.LookupId(uid)
	if err != nil {
		return uid
	}
	return account.Username
}
