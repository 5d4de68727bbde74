// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/slopewatch/slopewatch/lib/tilt"
)

// stats tracks the agent's operational counters. Counters live in a
// per-instance metrics.Set rather than the package-level default so
// tests can build as many agents as they like without name collisions.
type stats struct {
	deviceID string
	started  time.Time

	set *metrics.Set

	polls             *metrics.Counter
	serialWriteErrors *metrics.Counter
	serialReadErrors  *metrics.Counter
	readings          *metrics.Counter
	crcErrors         *metrics.Counter
	framingErrors     *metrics.Counter
	deliveries        *metrics.Counter
	deliveryFailures  *metrics.Counter
	backfillEpisodes  *metrics.Counter
	backfillDelivered *metrics.Counter
	backfillAborts    *metrics.Counter
	secondarySent     *metrics.Counter
	secondaryErrors   *metrics.Counter
	logAppendFailures *metrics.Counter

	// lastSuccess mirrors the pipeline's lastSuccessTime as Unix
	// milliseconds for the status endpoint. Zero means no delivery
	// has succeeded yet.
	lastSuccess atomic.Int64
}

func newStats(deviceID string, started time.Time) *stats {
	set := metrics.NewSet()
	return &stats{
		deviceID: deviceID,
		started:  started,
		set:      set,

		polls:             set.NewCounter("slopewatch_polls_total"),
		serialWriteErrors: set.NewCounter("slopewatch_serial_write_errors_total"),
		serialReadErrors:  set.NewCounter("slopewatch_serial_read_errors_total"),
		readings:          set.NewCounter("slopewatch_readings_total"),
		crcErrors:         set.NewCounter(`slopewatch_decode_errors_total{reason="crc"}`),
		framingErrors:     set.NewCounter(`slopewatch_decode_errors_total{reason="framing"}`),
		deliveries:        set.NewCounter("slopewatch_deliveries_total"),
		deliveryFailures:  set.NewCounter("slopewatch_delivery_failures_total"),
		backfillEpisodes:  set.NewCounter("slopewatch_backfill_episodes_total"),
		backfillDelivered: set.NewCounter("slopewatch_backfill_delivered_total"),
		backfillAborts:    set.NewCounter("slopewatch_backfill_aborts_total"),
		secondarySent:     set.NewCounter("slopewatch_secondary_delivered_total"),
		secondaryErrors:   set.NewCounter("slopewatch_secondary_errors_total"),
		logAppendFailures: set.NewCounter("slopewatch_log_append_failures_total"),
	}
}

func (s *stats) setLastSuccess(t time.Time) {
	s.lastSuccess.Store(t.UnixMilli())
}

// statusSnapshot is the JSON body served by /status.
type statusSnapshot struct {
	DeviceID        string `json:"device_id"`
	Started         string `json:"started"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	LastSuccessTime string `json:"last_success_time,omitempty"`

	Polls             uint64 `json:"polls"`
	SerialWriteErrors uint64 `json:"serial_write_errors"`
	SerialReadErrors  uint64 `json:"serial_read_errors"`
	Readings          uint64 `json:"readings"`
	CRCErrors         uint64 `json:"crc_errors"`
	FramingErrors     uint64 `json:"framing_errors"`
	Deliveries        uint64 `json:"deliveries"`
	DeliveryFailures  uint64 `json:"delivery_failures"`
	BackfillEpisodes  uint64 `json:"backfill_episodes"`
	BackfillDelivered uint64 `json:"backfill_delivered"`
	BackfillAborts    uint64 `json:"backfill_aborts"`
	SecondarySent     uint64 `json:"secondary_delivered"`
	SecondaryErrors   uint64 `json:"secondary_errors"`
	LogAppendFailures uint64 `json:"log_append_failures"`
}

// Snapshot returns the current counter values for the status endpoint.
func (s *stats) Snapshot(now time.Time) statusSnapshot {
	snapshot := statusSnapshot{
		DeviceID:      s.deviceID,
		Started:       s.started.Format(tilt.TimeLayout),
		UptimeSeconds: int64(now.Sub(s.started).Seconds()),

		Polls:             s.polls.Get(),
		SerialWriteErrors: s.serialWriteErrors.Get(),
		SerialReadErrors:  s.serialReadErrors.Get(),
		Readings:          s.readings.Get(),
		CRCErrors:         s.crcErrors.Get(),
		FramingErrors:     s.framingErrors.Get(),
		Deliveries:        s.deliveries.Get(),
		DeliveryFailures:  s.deliveryFailures.Get(),
		BackfillEpisodes:  s.backfillEpisodes.Get(),
		BackfillDelivered: s.backfillDelivered.Get(),
		BackfillAborts:    s.backfillAborts.Get(),
		SecondarySent:     s.secondarySent.Get(),
		SecondaryErrors:   s.secondaryErrors.Get(),
		LogAppendFailures: s.logAppendFailures.Get(),
	}

	if millis := s.lastSuccess.Load(); millis != 0 {
		snapshot.LastSuccessTime = time.UnixMilli(millis).UTC().Format(tilt.TimeLayout)
	}
	return snapshot
}

// handler serves /status and /metrics. The now function supplies the
// uptime reference so tests control it.
func (s *stats) handler(now func() time.Time, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(s.Snapshot(now())); err != nil {
			logger.Warn("writing status response", "error", err)
		}
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.set.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})

	return mux
}
