// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package tilt defines the tilt sensor's frame decoding and the record
// types that flow from the decoder through delivery and the daily log.
package tilt

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the timestamp format used everywhere a sensing time is
// serialized: the daily log, the primary sink body, and the secondary
// sink record. ISO-8601 with millisecond precision and a numeric zone
// offset, so entries parse back losslessly for backfill comparisons.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp is a time.Time that marshals to and from TimeLayout.
type Timestamp struct {
	time.Time
}

// At wraps t as a Timestamp.
func At(t time.Time) Timestamp { return Timestamp{t} }

// MarshalJSON renders the timestamp in TimeLayout.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Format(TimeLayout))
}

// UnmarshalJSON parses a TimeLayout string.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.Parse(TimeLayout, raw)
	if err != nil {
		return fmt.Errorf("parsing sensing time: %w", err)
	}
	ts.Time = parsed
	return nil
}

// Record is one decoder output: a Reading or an ErrorRecord, produced
// in frame arrival order.
type Record interface {
	record()
}

// Reading is a validated frame decoded to three axis angles. Angles
// are pre-formatted strings with exactly three fractional digits —
// the sensor reports thousandths of a degree and the wire formats
// preserve that precision verbatim.
type Reading struct {
	SensingTime Timestamp
	AngX        string
	AngY        string
	AngZ        string
}

func (Reading) record() {}

// ErrorRecord reports a framing or integrity failure at a point in the
// byte stream.
type ErrorRecord struct {
	SensingTime Timestamp
	Reason      string
}

func (ErrorRecord) record() {}

// Decoder failure reasons. These strings appear verbatim in daily log
// entries and primary sink payloads.
const (
	ReasonCRCFailed    = "CRC validation failed"
	ReasonNoValidFrame = "No valid frame found"
)

// Metrics holds the auxiliary system readings attached to each
// delivered Reading. A nil field means that probe failed; the JSON
// encoding preserves the distinction as an explicit null.
type Metrics struct {
	CPUTemp    *float64 `json:"cpu_temp"`
	CPUVoltage *float64 `json:"cpu_voltage"`
	RSSI       *float64 `json:"rssi"`
	MemUsage   *float64 `json:"mem_usage"`
	DiskUsage  *float64 `json:"disk_usage"`
}

// ReadingEntry is the JSON object appended to the daily log and posted
// to the primary sink for a reading.
type ReadingEntry struct {
	DeviceID    string    `json:"device_id"`
	SensingTime Timestamp `json:"sensing_time"`
	AngX        string    `json:"ang_x"`
	AngY        string    `json:"ang_y"`
	AngZ        string    `json:"ang_z"`
	Metrics
}

// ErrorEntry is the JSON object appended to the daily log and posted
// to the primary sink for an error record.
type ErrorEntry struct {
	SensingTime Timestamp `json:"sensing_time"`
	Error       string    `json:"error"`
}

// Entry is the permissive shape daily log elements unmarshal into
// during backfill: either entry kind fits. Readings are distinguished
// by carrying all three angle fields.
type Entry struct {
	DeviceID    string    `json:"device_id"`
	SensingTime Timestamp `json:"sensing_time"`
	AngX        string    `json:"ang_x"`
	AngY        string    `json:"ang_y"`
	AngZ        string    `json:"ang_z"`
	Metrics
	Error string `json:"error"`
}

// HasAngles reports whether the entry carries all three angle fields,
// i.e. whether it is a reading and therefore a backfill candidate.
func (e *Entry) HasAngles() bool {
	return e.AngX != "" && e.AngY != "" && e.AngZ != ""
}

// AsReading converts a log entry back into the payload shape used for
// primary delivery, preserving the metrics recorded at capture time.
func (e *Entry) AsReading() ReadingEntry {
	return ReadingEntry{
		DeviceID:    e.DeviceID,
		SensingTime: e.SensingTime,
		AngX:        e.AngX,
		AngY:        e.AngY,
		AngZ:        e.AngZ,
		Metrics:     e.Metrics,
	}
}
