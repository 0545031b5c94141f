// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/aetros-agent/lib/testutil"
)

// syntheticCollector returns a Collector rooted at a temporary tree
// with a fixed statfs table.
func syntheticCollector(t *testing.T, disks map[string]DiskUsage) (*Collector, string) {
	t.Helper()
	root := t.TempDir()
	collector := &Collector{
		ProcRoot: filepath.Join(root, "proc"),
		SysRoot:  filepath.Join(root, "sys"),
		Statfs: func(path string) (DiskUsage, error) {
			usage, ok := disks[path]
			if !ok {
				return DiskUsage{}, errors.New("no such mount")
			}
			return usage, nil
		},
		LookupUser: func(uid string) string {
			if uid == "1000" {
				return "trainer"
			}
			return uid
		},
	}
	return collector, root
}

func TestInventoryFromSyntheticFS(t *testing.T) {
	collector, root := syntheticCollector(t, map[string]DiskUsage{
		"/":     {Total: 500 << 30, Used: 100 << 30},
		"/data": {Total: 2 << 40, Used: 1 << 40},
	})

	testutil.WriteFile(t, filepath.Join(root, "proc/meminfo"),
		"MemTotal:       16384000 kB\nMemFree:         1024000 kB\nMemAvailable:    8192000 kB\n")
	testutil.WriteFile(t, filepath.Join(root, "proc/cpuinfo"),
		"processor\t: 0\nmodel name\t: AMD EPYC 7763 64-Core Processor\ncpu MHz\t\t: 2450.000\n\n"+
			"processor\t: 1\nmodel name\t: AMD EPYC 7763 64-Core Processor\ncpu MHz\t\t: 3100.000\n\n")
	testutil.WriteFile(t, filepath.Join(root, "proc/stat"),
		"cpu  10 0 10 80 0 0 0 0 0 0\ncpu0 5 0 5 40 0 0 0 0 0 0\nbtime 1700000000\n")
	testutil.WriteFile(t, filepath.Join(root, "proc/mounts"),
		"/dev/nvme0n1p2 / ext4 rw 0 0\n"+
			"proc /proc proc rw 0 0\n"+
			"/dev/loop3 /snap/core squashfs ro 0 0\n"+
			"/dev/sdb1 /data xfs rw 0 0\n"+
			"/dev/nvme0n1p2 / ext4 rw 0 0\n"+
			"/dev/sdc1 /gone ext4 rw 0 0\n")
	testutil.WriteFile(t, filepath.Join(root, "sys/class/net/lo/operstate"), "unknown\n")
	testutil.WriteFile(t, filepath.Join(root, "sys/class/net/eth0/operstate"), "up\n")
	testutil.WriteFile(t, filepath.Join(root, "sys/class/net/eth0/speed"), "10000\n")
	testutil.WriteFile(t, filepath.Join(root, "sys/class/net/wlan0/operstate"), "up\n")
	testutil.WriteFile(t, filepath.Join(root, "sys/class/net/wlan0/speed"), "-1\n")
	testutil.WriteFile(t, filepath.Join(root, "sys/class/net/eth1/operstate"), "down\n")

	info := collector.Inventory()

	if info.MemoryTotal != 16384000*1024 {
		t.Errorf("MemoryTotal = %d", info.MemoryTotal)
	}
	if info.CPUName != "AMD EPYC 7763 64-Core Processor" {
		t.Errorf("CPUName = %q", info.CPUName)
	}
	if info.CPU != [2]uint64{2450000000, 2} {
		t.Errorf("CPU = %v, want [2450000000 2]", info.CPU)
	}
	if len(info.Nets) != 2 || info.Nets["eth0"] != 10000 {
		t.Errorf("Nets = %v, want eth0:10000 and wlan0:0", info.Nets)
	}
	if speed, ok := info.Nets["wlan0"]; !ok || speed != 0 {
		t.Errorf("wlan0 speed = %d, %v; want 0, true", speed, ok)
	}
	if len(info.Disks) != 2 || info.Disks["/"] != 500<<30 || info.Disks["/data"] != 2<<40 {
		t.Errorf("Disks = %v", info.Disks)
	}
	if info.BootTime != 1700000000 {
		t.Errorf("BootTime = %d", info.BootTime)
	}
}

func TestInventoryEmptyTree(t *testing.T) {
	collector, _ := syntheticCollector(t, nil)

	info := collector.Inventory()

	if info.CPU[1] == 0 {
		t.Error("core count should fall back to the runtime when cpuinfo is missing")
	}
	if info.Nets == nil || info.Disks == nil {
		t.Error("maps should be non-nil so they encode as empty maps")
	}
	if info.BootTime != 0 {
		t.Errorf("BootTime = %d, want 0", info.BootTime)
	}
}

func TestParseCPULine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want *CPUReading
	}{
		{"aggregate", "cpu  1 2 3 4 5 6 7 8 9 10", &CPUReading{Busy: 1 + 2 + 3 + 6 + 7 + 8, Idle: 4 + 5}},
		{"core", "cpu3 10 0 10 80 0 0 0 0", &CPUReading{Busy: 20, Idle: 80}},
		{"too short", "cpu 1 2 3", nil},
		{"wrong label", "intr 1 2 3 4 5 6 7 8 9", nil},
		{"garbage", "cpu a b c d e f g h", nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := parseCPULine(test.line)
			if (got == nil) != (test.want == nil) {
				t.Fatalf("parseCPULine(%q) = %v, want %v", test.line, got, test.want)
			}
			if got != nil && *got != *test.want {
				t.Errorf("parseCPULine(%q) = %+v, want %+v", test.line, *got, *test.want)
			}
		})
	}
}
