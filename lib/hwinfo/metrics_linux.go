// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

// clockTicks is USER_HZ, the unit of the jiffy counters in
// /proc/<pid>/stat. It is 100 on every architecture Linux ships.
const clockTicks = 100

// processThreshold is the CPU or memory percent a process must exceed
// to be listed in a snapshot.
const processThreshold = 1.0

type netCounters struct {
	received uint64
	sent     uint64
}

// Utilization collects a snapshot at now and returns it with the
// baseline for the next call. Pass the zero Baseline on the first call.
func (c *Collector) Utilization(previous Baseline, now time.Time) (schema.Utilization, Baseline) {
	next := Baseline{time: now}
	snapshot := schema.Utilization{
		Disks: make(map[string]uint64),
		Nets:  make(map[string]schema.NetworkUsage),
	}

	next.total, next.cores = c.readCPUStats()
	snapshot.CPU = make([]float64, len(next.cores))
	for i, core := range next.cores {
		if i < len(previous.cores) {
			snapshot.CPU[i] = CPUPercent(previous.cores[i], core)
		}
	}

	memory := c.readMeminfo()
	memoryTotal := memory["MemTotal"]
	if available, ok := memory["MemAvailable"]; ok && memoryTotal > 0 && available <= memoryTotal {
		snapshot.Memory = float64(memoryTotal-available) / float64(memoryTotal) * 100
	}

	for mount, usage := range c.physicalDisks() {
		snapshot.Disks[mount] = usage.Used
	}

	var elapsed float64
	if !previous.time.IsZero() {
		elapsed = now.Sub(previous.time).Seconds()
	}
	next.nets = c.readNetDev(c.upInterfaces())
	for name, counters := range next.nets {
		usage := schema.NetworkUsage{Received: counters.received, Sent: counters.sent}
		if before, ok := previous.nets[name]; ok && elapsed > 0 {
			if counters.sent >= before.sent {
				usage.Upload = float64(counters.sent-before.sent) / elapsed
			}
			if counters.received >= before.received {
				usage.Download = float64(counters.received-before.received) / elapsed
			}
		}
		snapshot.Nets[name] = usage
	}

	// Process CPU percent is relative to one core, so a process using
	// two cores fully reports 200.
	var elapsedJiffies float64
	if previous.total != nil && next.total != nil && len(next.cores) > 0 &&
		next.total.Total() > previous.total.Total() {
		elapsedJiffies = float64(next.total.Total()-previous.total.Total()) / float64(len(next.cores))
	}
	snapshot.Processes, next.processes = c.readProcesses(previous.processes, elapsedJiffies, memoryTotal)

	snapshot.LoadAverage = c.readLoadAverage()
	return snapshot, next
}

// readCPUStats returns the aggregate "cpu" reading and one reading per
// "cpuN" line of /proc/stat.
func (c *Collector) readCPUStats() (*CPUReading, []*CPUReading) {
	file, err := os.Open(filepath.Join(c.ProcRoot, "stat"))
	if err != nil {
		return nil, nil
	}
	defer file.Close()

	var (
		total *CPUReading
		cores []*CPUReading
	)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu") {
			continue
		}
		reading := parseCPULine(line)
		if reading == nil {
			continue
		}
		if strings.HasPrefix(line, "cpu ") {
			total = reading
		} else {
			cores = append(cores, reading)
		}
	}
	return total, cores
}

// readNetDev parses /proc/net/dev into cumulative byte counters for
// the interfaces in up, the same set the inventory reports.
func (c *Collector) readNetDev(up map[string]int) map[string]netCounters {
	counters := make(map[string]netCounters)
	file, err := os.Open(filepath.Join(c.ProcRoot, "net", "dev"))
	if err != nil {
		return counters
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		name, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if _, ok := up[name]; !ok {
			continue
		}
		// 8 receive columns, then 8 transmit columns.
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			continue
		}
		received, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		sent, err := strconv.ParseUint(fields[8], 10, 64)
		if err != nil {
			continue
		}
		counters[name] = netCounters{received: received, sent: sent}
	}
	return counters
}

func (c *Collector) readLoadAverage() [3]float64 {
	var average [3]float64
	fields := strings.Fields(readString(filepath.Join(c.ProcRoot, "loadavg")))
	for i := 0; i < 3 && i < len(fields); i++ {
		if value, err := strconv.ParseFloat(fields[i], 64); err == nil {
			average[i] = value
		}
	}
	return average
}

// processStat is the subset of /proc/<pid>/stat the snapshot uses.
type processStat struct {
	state     string
	jiffies   uint64
	threads   int
	startTime uint64
}

// readProcesses lists the processes above [processThreshold] and
// returns every process's cumulative CPU jiffies for the next call.
func (c *Collector) readProcesses(previous map[int]uint64, elapsedJiffies float64, memoryTotal uint64) ([]schema.ProcessUsage, map[int]uint64) {
	jiffies := make(map[int]uint64)
	entries, err := os.ReadDir(c.ProcRoot)
	if err != nil {
		return nil, jiffies
	}

	bootTime := c.bootTime()
	var processes []schema.ProcessUsage
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || !entry.IsDir() {
			continue
		}
		directory := filepath.Join(c.ProcRoot, entry.Name())
		stat, ok := parseProcessStat(readString(filepath.Join(directory, "stat")))
		if !ok {
			continue
		}
		jiffies[pid] = stat.jiffies

		var cpuPercent float64
		if before, seen := previous[pid]; seen && elapsedJiffies > 0 && stat.jiffies >= before {
			cpuPercent = float64(stat.jiffies-before) / elapsedJiffies * 100
		}

		uid, residentBytes := readProcessStatus(filepath.Join(directory, "status"))
		var memoryPercent float64
		if memoryTotal > 0 {
			memoryPercent = float64(residentBytes) / float64(memoryTotal) * 100
		}

		if cpuPercent <= processThreshold && memoryPercent <= processThreshold {
			continue
		}

		processes = append(processes, schema.ProcessUsage{
			PID:           pid,
			Name:          readString(filepath.Join(directory, "comm")),
			User:          c.userName(uid),
			CreateTime:    bootTime + int64(stat.startTime/clockTicks),
			Status:        processStatus(stat.state),
			Threads:       stat.threads,
			MemoryPercent: memoryPercent,
			CPUPercent:    cpuPercent,
		})
	}
	return processes, jiffies
}

// parseProcessStat parses /proc/<pid>/stat. The command name is
// parenthesized and may contain spaces, so fields are counted from the
// last closing parenthesis.
func parseProcessStat(content string) (processStat, bool) {
	end := strings.LastIndexByte(content, ')')
	if end < 0 {
		return processStat{}, false
	}
	// fields[0] is field 3 (state) of proc(5).
	fields := strings.Fields(content[end+1:])
	if len(fields) < 20 {
		return processStat{}, false
	}
	userTime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return processStat{}, false
	}
	systemTime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return processStat{}, false
	}
	threads, _ := strconv.Atoi(fields[17])
	startTime, _ := strconv.ParseUint(fields[19], 10, 64)
	return processStat{
		state:     fields[0],
		jiffies:   userTime + systemTime,
		threads:   threads,
		startTime: startTime,
	}, true
}

// readProcessStatus returns the real uid and resident set size in
// bytes from /proc/<pid>/status.
func readProcessStatus(path string) (string, uint64) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0
	}
	defer file.Close()

	var (
		uid      string
		resident uint64
	)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "Uid:":
			uid = fields[1]
		case "VmRSS:":
			if value, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				resident = value * 1024
			}
		}
	}
	return uid, resident
}

func processStatus(state string) string {
	switch state {
	case "R":
		return "running"
	case "S":
		return "sleeping"
	case "D":
		return "disk-sleep"
	case "Z":
		return "zombie"
	case "T":
		return "stopped"
	case "t":
		return "tracing-stop"
	case "X", "x":
		return "dead"
	case "I":
		return "idle"
	default:
		return state
	}
}
