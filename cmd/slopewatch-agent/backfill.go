// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"slices"
	"time"

	"github.com/slopewatch/slopewatch/lib/logbook"
	"github.com/slopewatch/slopewatch/lib/tilt"
)

// backfill runs one re-delivery episode covering the gap between the
// last successful delivery and the reading that exposed it. Candidates
// are delivered newest first; the first failure aborts the remainder of
// the episode.
func (p *pipeline) backfill(ctx context.Context, upTo time.Time) {
	p.stats.backfillEpisodes.Inc()
	since := p.lastSuccessTime

	candidates := p.collectCandidates(since, upTo)

	p.logger.Info("backfill episode starting",
		"since", since, "up_to", upTo, "candidates", len(candidates))

	delivered := 0
	for _, entry := range candidates {
		if err := p.primary.Deliver(ctx, entry); err != nil {
			p.stats.backfillAborts.Inc()
			p.logger.Warn("backfill delivery failed, aborting episode",
				"error", err, "sensing_time", entry.SensingTime,
				"delivered", delivered, "remaining", len(candidates)-delivered)
			return
		}
		p.stats.backfillDelivered.Inc()
		p.advance(entry.SensingTime.Time)
		delivered++
	}

	if delivered > 0 {
		p.logger.Info("backfill episode complete", "delivered", delivered)
	}
}

// collectCandidates gathers undelivered readings from the daily logs of
// every calendar day between since and upTo inclusive. Entries must
// carry all three angles (error records never re-deliver), fall
// strictly after since, and not exceed upTo. File order is preserved
// per day, days run oldest to newest, and the combined list is reversed
// so delivery starts nearest upTo.
func (p *pipeline) collectCandidates(since, upTo time.Time) []tilt.ReadingEntry {
	var candidates []tilt.ReadingEntry

	last := dayStart(upTo)
	for day := dayStart(since); !day.After(last); day = day.AddDate(0, 0, 1) {
		raw, err := p.book.ReadDay(day)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				p.logger.Debug("no daily log for backfill day", "day", logbook.DayKey(day))
			} else {
				p.logger.Warn("skipping unreadable day during backfill",
					"day", logbook.DayKey(day), "error", err)
			}
			continue
		}

		for _, message := range raw {
			var entry tilt.Entry
			if err := json.Unmarshal(message, &entry); err != nil {
				p.logger.Warn("skipping malformed daily log entry",
					"day", logbook.DayKey(day), "error", err)
				continue
			}
			if !entry.HasAngles() {
				continue
			}
			sensing := entry.SensingTime.Time
			if !sensing.After(since) || sensing.After(upTo) {
				continue
			}
			candidates = append(candidates, entry.AsReading())
		}
	}

	slices.Reverse(candidates)
	return candidates
}

// dayStart returns midnight of t's calendar day in t's own location.
func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
