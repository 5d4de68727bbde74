// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/slopewatch/slopewatch/lib/clock"
	"github.com/slopewatch/slopewatch/lib/logbook"
	"github.com/slopewatch/slopewatch/lib/modbus"
	"github.com/slopewatch/slopewatch/lib/tilt"
)

// registerCount is the fixed number of holding registers in the angle
// block: three axes, two registers each.
const registerCount = 6

// sweepInterval is how often the retention sweep reruns after the
// startup pass.
const sweepInterval = 24 * time.Hour

// Agent owns the poll schedule, the serial port, the frame decoder, and
// the delivery pipeline. Run drives everything from one select loop so
// the decoder buffer, the clock anchor, and lastSuccessTime are only
// ever touched from one goroutine; the reader goroutine does nothing
// but copy port bytes into a channel.
type Agent struct {
	cfg     *Config
	port    io.ReadWriteCloser
	clk     clock.Clock
	anchor  *clock.Anchor
	decoder *tilt.Decoder
	pipe    *pipeline
	stats   *stats
	logger  *slog.Logger

	// command is the precomputed poll request written on every tick.
	command []byte

	// resync receives SIGHUP notifications; each one re-anchors the
	// timestamp base to the current wall clock.
	resync <-chan os.Signal

	retention logbook.Retention
}

func newAgent(cfg *Config, port io.ReadWriteCloser, clk clock.Clock, pipe *pipeline, resync <-chan os.Signal, logger *slog.Logger) *Agent {
	anchor := clock.NewAnchor(clk)
	slave := byte(cfg.Serial.SlaveAddress)

	return &Agent{
		cfg:     cfg,
		port:    port,
		clk:     clk,
		anchor:  anchor,
		decoder: tilt.NewDecoder(modbus.ResponseHeader(slave, registerCount), anchor.Now),
		pipe:    pipe,
		stats:   pipe.stats,
		logger:  logger,
		command: modbus.ReadHoldingRequest(slave, uint16(cfg.Serial.Register), registerCount),
		resync:  resync,
		retention: logbook.Retention{
			CompressAfterDays: cfg.Retention.CompressAfterDays,
			DeleteAfterDays:   cfg.Retention.RetainDays,
		},
	}
}

// Run polls the sensor and processes its responses until ctx is
// cancelled. On shutdown it closes the serial port (which unblocks the
// reader goroutine) and waits for the reader to finish; the record
// being processed completes its pipeline pass, chunks still queued
// behind it are dropped.
func (a *Agent) Run(ctx context.Context) error {
	chunks := make(chan []byte, 8)
	readDone := make(chan error, 1)
	go func() {
		readDone <- a.readPort(chunks)
	}()

	a.sweep()

	period := a.cfg.SamplePeriod()
	delay := alignmentDelay(a.anchor.Now(), period)
	a.logger.Info("aligning first poll", "delay", delay, "period", period)

	align := a.clk.After(delay)
	var ticker *clock.Ticker
	var ticks <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	sweepTicker := a.clk.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("poll loop stopping")
			if err := a.port.Close(); err != nil {
				a.logger.Warn("closing serial port", "error", err)
			}
			// chunks is nil if the reader already exited; ranging a nil
			// channel would block forever.
			if chunks != nil {
				for range chunks {
					// Drop chunks queued behind the shutdown.
				}
			}
			return nil

		case <-align:
			align = nil
			a.poll()
			ticker = a.clk.NewTicker(period)
			ticks = ticker.C

		case <-ticks:
			a.poll()

		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			for _, record := range a.decoder.Feed(chunk) {
				a.pipe.process(ctx, record)
			}

		case err := <-readDone:
			readDone = nil
			if err != nil && ctx.Err() == nil {
				a.stats.serialReadErrors.Inc()
				a.logger.Error("serial read failed, polling continues without responses", "error", err)
			}

		case <-a.resync:
			a.anchor.Resync()
			a.logger.Info("clock anchor resynced", "now", a.anchor.Now())

		case <-sweepTicker.C:
			a.sweep()
		}
	}
}

// readPort copies serial bytes into chunks until the port errors out,
// which includes the port close during shutdown.
func (a *Agent) readPort(chunks chan<- []byte) error {
	defer close(chunks)

	buf := make([]byte, 256)
	for {
		n, err := a.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks <- chunk
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// poll writes the precomputed read command. The response arrives via
// the reader goroutine; write failures are counted and the schedule
// carries on.
func (a *Agent) poll() {
	a.stats.polls.Inc()
	if _, err := a.port.Write(a.command); err != nil {
		a.stats.serialWriteErrors.Inc()
		a.logger.Error("writing poll command", "error", err)
	}
}

// sweep applies the retention policy to the daily logs. Failures are
// logged; the next daily sweep retries.
func (a *Agent) sweep() {
	if a.retention.CompressAfterDays == 0 && a.retention.DeleteAfterDays == 0 {
		return
	}
	if err := a.pipe.book.Sweep(a.anchor.Now(), a.retention); err != nil {
		a.logger.Warn("retention sweep failed", "error", err)
	}
}

// alignmentDelay computes how long to wait so the first poll lands on
// the next sample-period boundary, from the anchored time's position
// within its current minute. An instant already on a boundary waits a
// full period.
func alignmentDelay(now time.Time, period time.Duration) time.Duration {
	periodMS := period.Milliseconds()
	positionMS := int64(now.Second())*1000 + int64(now.Nanosecond())/int64(time.Millisecond)
	return time.Duration(periodMS-positionMS%periodMS) * time.Millisecond
}
