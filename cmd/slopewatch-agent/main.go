// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

// Slopewatch-agent polls a serial-attached tilt sensor and forwards its
// readings to a central collector. It is built to run unattended on a
// small field device where power, clock, network, and the sensor itself
// all fail from time to time.
//
// On startup:
//  1. Loads and validates the YAML configuration.
//  2. Opens the daily log directory and applies the retention policy.
//  3. Opens the serial port and starts the operational HTTP endpoints.
//  4. Aligns the first poll to the next sample-period boundary, then
//     polls on a fixed cadence: decode the response, deliver the
//     reading to the collector, mirror it to the optional secondary
//     sink, and append it to the daily log.
//
// Readings the collector missed during an outage are replayed from the
// daily logs once delivery resumes. SIGHUP re-anchors timestamping
// after an external wall-clock correction; SIGINT and SIGTERM shut the
// agent down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/slopewatch/slopewatch/lib/clock"
	"github.com/slopewatch/slopewatch/lib/logbook"
	"github.com/slopewatch/slopewatch/lib/process"
	"github.com/slopewatch/slopewatch/lib/service"
	"github.com/slopewatch/slopewatch/lib/sysprobe"
	"github.com/slopewatch/slopewatch/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "/etc/slopewatch/agent.yaml", "path to the agent configuration file")
	flag.StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("slopewatch-agent %s\n", version.Info())
		return nil
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP is delivered to the agent loop rather than cancelling it:
	// the operator sends it after correcting the system clock.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	book, err := logbook.Open(logbook.Config{
		Directory: cfg.DataDir,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	stats := newStats(cfg.DeviceID, time.Now())

	pipe := &pipeline{
		deviceID: cfg.DeviceID,
		gap:      cfg.GapThreshold(),
		probes:   sysprobe.NewCollector(cfg.DataDir, cfg.WirelessInterface),
		book:     book,
		primary:  newHTTPSink(cfg.Primary),
		stats:    stats,
		logger:   logger,
	}
	if cfg.Secondary.Enabled {
		pipe.secondary = newTCPSink(cfg.Secondary, time.Now)
	}

	// The sensor link is fixed at 115200 8N1.
	port, err := serial.Open(cfg.Serial.Port, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("opening serial port %s: %w", cfg.Serial.Port, err)
	}

	var statusDone chan error
	if cfg.StatusAddr != "" {
		statusServer := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.StatusAddr,
			Handler: stats.handler(time.Now, logger),
			Logger:  logger,
		})
		statusDone = make(chan error, 1)
		go func() { statusDone <- statusServer.Serve(ctx) }()

		select {
		case <-statusServer.Ready():
			logger.Info("status endpoints ready", "address", statusServer.Addr().String())
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logger.Info("slopewatch agent starting",
		"version", version.Short(),
		"device_id", cfg.DeviceID,
		"serial_port", cfg.Serial.Port,
		"sample_period", cfg.SamplePeriod(),
		"collector", cfg.Primary.URL,
	)

	agent := newAgent(cfg, port, clock.Real(), pipe, hup, logger)
	runErr := agent.Run(ctx)

	if statusDone != nil {
		if err := <-statusDone; err != nil {
			logger.Error("status server error", "error", err)
		}
	}
	return runErr
}
