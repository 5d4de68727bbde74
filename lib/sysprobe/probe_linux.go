// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package sysprobe

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/slopewatch/slopewatch/lib/tilt"
)

// Collect runs all five probes and returns their results. Fields for
// failed probes are nil.
func (c *Collector) Collect() tilt.Metrics {
	return tilt.Metrics{
		CPUTemp:    readCPUTempFrom(c.sysRoot),
		CPUVoltage: readCPUVoltageFrom(c.sysRoot),
		RSSI:       readRSSIFrom(c.procRoot, c.iface),
		MemUsage:   readMemUsageFrom(c.procRoot),
		DiskUsage:  diskUsageOf(c.diskPath),
	}
}

// readCPUTempFrom reads the first parseable thermal zone under
// {sysRoot}/class/thermal and converts millidegrees to degrees
// Celsius. Zone files hold values like "41250\n".
func readCPUTempFrom(sysRoot string) *float64 {
	zones, err := filepath.Glob(filepath.Join(sysRoot, "class/thermal/thermal_zone*/temp"))
	if err != nil {
		return nil
	}
	for _, zone := range zones {
		if value, ok := readMilliFile(zone); ok {
			return &value
		}
	}
	return nil
}

// readCPUVoltageFrom reads the first parseable in0_input under
// {sysRoot}/class/hwmon and converts millivolts to volts. On the
// supported boards in0 is the core supply rail.
func readCPUVoltageFrom(sysRoot string) *float64 {
	inputs, err := filepath.Glob(filepath.Join(sysRoot, "class/hwmon/hwmon*/in0_input"))
	if err != nil {
		return nil
	}
	for _, input := range inputs {
		if value, ok := readMilliFile(input); ok {
			return &value
		}
	}
	return nil
}

// readMilliFile reads a sysfs file holding a single integer in
// thousandths of a unit and returns the value in whole units.
func readMilliFile(path string) (float64, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, false
	}
	return value / 1000, true
}

// readRSSIFrom extracts the signal level in dBm from
// {procRoot}/net/wireless. The file has two header lines, then one row
// per station interface:
//
//	 face | sta-|   Quality        |   Discarded packets ...
//	wlan0: 0000   54.  -56.  -256        0      0 ...
//
// The level is the fourth field, with a stray trailing dot. iface
// selects a row by name; empty matches the first row.
func readRSSIFrom(procRoot, iface string) *float64 {
	file, err := os.Open(filepath.Join(procRoot, "net/wireless"))
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 0; scanner.Scan(); line++ {
		if line < 2 {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		name := strings.TrimSuffix(fields[0], ":")
		if iface != "" && name != iface {
			continue
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			return nil
		}
		return &level
	}
	return nil
}

// readMemUsageFrom computes the used-memory percentage from MemTotal
// and MemAvailable in {procRoot}/meminfo, rounded to one decimal.
func readMemUsageFrom(procRoot string) *float64 {
	data, err := os.ReadFile(filepath.Join(procRoot, "meminfo"))
	if err != nil {
		return nil
	}
	var total, available float64
	var haveTotal, haveAvailable bool
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, haveTotal = value, true
		case "MemAvailable:":
			available, haveAvailable = value, true
		}
	}
	if !haveTotal || !haveAvailable || total == 0 {
		return nil
	}
	used := roundPercent((total - available) / total * 100)
	return &used
}

// diskUsageOf computes the used percentage of the filesystem holding
// path, rounded to one decimal. Matches df: reserved root blocks count
// as used, so the denominator is used plus available rather than the
// raw block count.
func diskUsageOf(path string) *float64 {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return nil
	}
	used := fs.Blocks - fs.Bfree
	denominator := used + fs.Bavail
	if denominator == 0 {
		return nil
	}
	percent := roundPercent(float64(used) / float64(denominator) * 100)
	return &percent
}

func roundPercent(v float64) float64 {
	return math.Round(v*10) / 10
}
