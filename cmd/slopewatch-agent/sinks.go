// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slopewatch/slopewatch/lib/netutil"
	"github.com/slopewatch/slopewatch/lib/tilt"
)

// httpSink delivers records to the primary collector as JSON over
// HTTP POST. One request per record; any non-2xx response is a
// delivery failure.
type httpSink struct {
	url    string
	client *http.Client
}

func newHTTPSink(cfg PrimaryConfig) *httpSink {
	return &httpSink{
		url: cfg.URL,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
	}
}

// Deliver POSTs one record body to the collector.
func (s *httpSink) Deliver(ctx context.Context, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("posting record: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("collector returned %s: %s", response.Status, netutil.ErrorBody(response.Body))
	}
	return nil
}

// tcpSink mirrors readings to the legacy collector as delimited ASCII
// records, one connection per reading.
type tcpSink struct {
	address string
	timeout time.Duration

	// now supplies the write deadline's wall time. Injected so tests
	// that drive the agent on a fake clock still hand real deadlines
	// to real sockets.
	now func() time.Time
}

func newTCPSink(cfg SecondaryConfig, now func() time.Time) *tcpSink {
	return &tcpSink{
		address: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		now:     now,
	}
}

// Mirror writes one reading and closes the connection.
func (s *tcpSink) Mirror(ctx context.Context, entry tilt.ReadingEntry) error {
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("connecting to mirror: %w", err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(s.now().Add(s.timeout)); err != nil {
		return fmt.Errorf("setting mirror deadline: %w", err)
	}
	if _, err := io.WriteString(conn, secondaryRecord(entry)); err != nil {
		return fmt.Errorf("writing mirror record: %w", err)
	}
	return nil
}

// secondaryRecord renders the legacy collector's line format:
// "$$$" + comma-joined fields + "###". A metric the probes could not
// read becomes an empty field.
func secondaryRecord(entry tilt.ReadingEntry) string {
	fields := []string{
		entry.DeviceID,
		entry.SensingTime.Format(tilt.TimeLayout),
		entry.AngX,
		entry.AngY,
		entry.AngZ,
		floatField(entry.CPUTemp),
		floatField(entry.CPUVoltage),
		floatField(entry.RSSI),
	}
	return "$$$" + strings.Join(fields, ",") + "###"
}

func floatField(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
