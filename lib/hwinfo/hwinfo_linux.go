// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/aetros-agent/lib/schema"
)

// Inventory collects the static description of the machine. Missing
// or unreadable files produce zero-valued fields rather than failures.
func (c *Collector) Inventory() schema.Inventory {
	info := schema.Inventory{
		Nets:  make(map[string]int),
		Disks: make(map[string]uint64),
	}

	memory := c.readMeminfo()
	info.MemoryTotal = memory["MemTotal"]
	if info.MemoryTotal == 0 {
		var sysinfo unix.Sysinfo_t
		if err := unix.Sysinfo(&sysinfo); err == nil {
			info.MemoryTotal = uint64(sysinfo.Totalram) * uint64(sysinfo.Unit)
		}
	}

	info.CPUName, info.CPU = c.readCPUInfo()

	for name, speed := range c.upInterfaces() {
		info.Nets[name] = speed
	}
	for mount, usage := range c.physicalDisks() {
		info.Disks[mount] = usage.Total
	}

	info.BootTime = c.bootTime()
	return info
}

// readMeminfo returns /proc/meminfo values in bytes, keyed by field
// name without the trailing colon.
func (c *Collector) readMeminfo() map[string]uint64 {
	values := make(map[string]uint64)
	file, err := os.Open(filepath.Join(c.ProcRoot, "meminfo"))
	if err != nil {
		return values
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		if len(fields) >= 3 && fields[2] == "kB" {
			value *= 1024
		}
		values[strings.TrimSuffix(fields[0], ":")] = value
	}
	return values
}

// readCPUInfo extracts the first model name, the first "cpu MHz" value
// converted to Hz, and the processor count from /proc/cpuinfo.
func (c *Collector) readCPUInfo() (string, [2]uint64) {
	var (
		name  string
		hertz uint64
		count uint64
	)

	file, err := os.Open(filepath.Join(c.ProcRoot, "cpuinfo"))
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			key, value, ok := strings.Cut(scanner.Text(), ":")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			switch key {
			case "processor":
				count++
			case "model name":
				if name == "" {
					name = value
				}
			case "cpu MHz":
				if hertz == 0 {
					if mhz, err := strconv.ParseFloat(value, 64); err == nil {
						hertz = uint64(mhz * 1e6)
					}
				}
			}
		}
	}

	if count == 0 {
		count = uint64(runtime.NumCPU())
	}
	return name, [2]uint64{hertz, count}
}

// upInterfaces returns every non-loopback interface whose operstate is
// "up", with its link speed in Mbit/s (0 when the driver reports none).
func (c *Collector) upInterfaces() map[string]int {
	links := make(map[string]int)
	base := filepath.Join(c.SysRoot, "class", "net")
	entries, err := os.ReadDir(base)
	if err != nil {
		return links
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == "lo" {
			continue
		}
		if readString(filepath.Join(base, name, "operstate")) != "up" {
			continue
		}
		speed, err := strconv.Atoi(readString(filepath.Join(base, name, "speed")))
		if err != nil || speed < 0 {
			speed = 0
		}
		links[name] = speed
	}
	return links
}

// physicalDisks returns the usage of every mount backed by a block
// device, keyed by mount point. Loop devices are skipped.
func (c *Collector) physicalDisks() map[string]DiskUsage {
	disks := make(map[string]DiskUsage)
	file, err := os.Open(filepath.Join(c.ProcRoot, "mounts"))
	if err != nil {
		return disks
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		device, mount := fields[0], fields[1]
		if !strings.HasPrefix(device, "/dev/") || strings.HasPrefix(device, "/dev/loop") {
			continue
		}
		if _, seen := disks[mount]; seen || c.Statfs == nil {
			continue
		}
		usage, err := c.Statfs(mount)
		if err != nil {
			continue
		}
		disks[mount] = usage
	}
	return disks
}

// bootTime reads the btime line of /proc/stat.
func (c *Collector) bootTime() int64 {
	file, err := os.Open(filepath.Join(c.ProcRoot, "stat"))
	if err != nil {
		return 0
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "btime" {
			value, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0
			}
			return value
		}
	}
	return 0
}

func statfs(path string) (DiskUsage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskUsage{}, err
	}
	blockSize := uint64(stat.Bsize)
	return DiskUsage{
		Total: stat.Blocks * blockSize,
		Used:  (stat.Blocks - stat.Bfree) * blockSize,
	}, nil
}
