// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/slopewatch/slopewatch/lib/logbook"
	"github.com/slopewatch/slopewatch/lib/tilt"
)

// primarySink delivers record bodies to the collector. Satisfied by
// httpSink.
type primarySink interface {
	Deliver(ctx context.Context, body any) error
}

// secondarySink mirrors readings to the legacy collector.
type secondarySink interface {
	Mirror(ctx context.Context, entry tilt.ReadingEntry) error
}

// metricsSource supplies the auxiliary device metrics attached to each
// reading.
type metricsSource interface {
	Collect() tilt.Metrics
}

// pipeline walks every decoded record through metric enrichment, the
// daily log, primary delivery, the gap check, and the optional mirror.
// It runs entirely on the agent's select loop; nothing here is safe for
// concurrent use.
type pipeline struct {
	deviceID string

	// gap is the delivery gap beyond which a backfill episode runs
	// (gap_factor × sample period).
	gap time.Duration

	probes    metricsSource
	book      *logbook.Book
	primary   primarySink
	secondary secondarySink // nil when the mirror is disabled

	stats  *stats
	logger *slog.Logger

	// lastSuccessTime is the sensing time of the most recently
	// confirmed-delivered reading. Zero until the first success.
	lastSuccessTime time.Time
}

// process routes one decoded record through the pipeline.
func (p *pipeline) process(ctx context.Context, record tilt.Record) {
	switch r := record.(type) {
	case tilt.Reading:
		p.stats.readings.Inc()
		p.processReading(ctx, r)
	case tilt.ErrorRecord:
		p.countDecodeError(r.Reason)
		p.processError(ctx, r)
	}
}

func (p *pipeline) countDecodeError(reason string) {
	switch reason {
	case tilt.ReasonCRCFailed:
		p.stats.crcErrors.Inc()
	case tilt.ReasonNoValidFrame:
		p.stats.framingErrors.Inc()
	}
}

func (p *pipeline) processReading(ctx context.Context, reading tilt.Reading) {
	entry := tilt.ReadingEntry{
		DeviceID:    p.deviceID,
		SensingTime: reading.SensingTime,
		AngX:        reading.AngX,
		AngY:        reading.AngY,
		AngZ:        reading.AngZ,
		Metrics:     p.probes.Collect(),
	}
	sensing := reading.SensingTime.Time

	// The daily log gets every reading in arrival order whatever
	// delivery does. Deferred past the delivery pass so a backfill
	// episode triggered by this reading never sees the reading itself
	// as a candidate.
	defer p.append(sensing, entry)

	if err := p.primary.Deliver(ctx, entry); err != nil {
		p.stats.deliveryFailures.Inc()
		p.logger.Warn("primary delivery failed",
			"error", err, "sensing_time", entry.SensingTime)
		return
	}
	p.stats.deliveries.Inc()

	// Gap check against the pre-delivery state: a late success after
	// an outage re-sends what accumulated in the daily log.
	if !p.lastSuccessTime.IsZero() && sensing.Sub(p.lastSuccessTime) > p.gap {
		p.backfill(ctx, sensing)
	}

	p.advance(sensing)

	if p.secondary != nil {
		if err := p.secondary.Mirror(ctx, entry); err != nil {
			p.stats.secondaryErrors.Inc()
			p.logger.Warn("secondary mirror failed",
				"error", err, "sensing_time", entry.SensingTime)
		} else {
			p.stats.secondarySent.Inc()
		}
	}
}

// append writes one entry to the daily log, counting failures but never
// letting them interrupt record processing.
func (p *pipeline) append(day time.Time, entry any) {
	if err := p.book.Append(day, entry); err != nil {
		p.stats.logAppendFailures.Inc()
		p.logger.Error("appending to daily log", "error", err, "day", logbook.DayKey(day))
	}
}

func (p *pipeline) processError(ctx context.Context, record tilt.ErrorRecord) {
	entry := tilt.ErrorEntry{
		SensingTime: record.SensingTime,
		Error:       record.Reason,
	}

	p.append(record.SensingTime.Time, entry)

	if err := p.primary.Deliver(ctx, entry); err != nil {
		p.stats.deliveryFailures.Inc()
		p.logger.Warn("primary delivery failed",
			"error", err, "sensing_time", entry.SensingTime)
		return
	}
	p.stats.deliveries.Inc()
}

// advance moves lastSuccessTime forward and mirrors it into the status
// counters.
func (p *pipeline) advance(sensing time.Time) {
	p.lastSuccessTime = sensing
	p.stats.setLastSuccess(sensing)
}
