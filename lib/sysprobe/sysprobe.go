// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package sysprobe collects the auxiliary system metrics attached to
// each delivered reading: CPU temperature and core voltage from sysfs,
// Wi-Fi signal strength from /proc/net/wireless, memory usage from
// /proc/meminfo, and disk usage of the data directory via statfs.
//
// Every probe fails soft: a missing file, an unparseable value, or an
// absent sensor yields a nil field, which serializes as an explicit
// JSON null. A probe failure never interrupts reading delivery.
package sysprobe

// Collector probes the local system for the metric set reported with
// each reading. The zero value is not usable; call NewCollector.
type Collector struct {
	procRoot string
	sysRoot  string
	diskPath string
	iface    string
}

// NewCollector returns a collector that probes /proc and /sys.
// diskPath is the filesystem whose usage is reported, normally the
// agent's data directory. wirelessInterface selects the station row
// of /proc/net/wireless; empty means the first row.
func NewCollector(diskPath, wirelessInterface string) *Collector {
	return &Collector{
		procRoot: "/proc",
		sysRoot:  "/sys",
		diskPath: diskPath,
		iface:    wirelessInterface,
	}
}
