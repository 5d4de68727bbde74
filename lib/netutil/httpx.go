// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides small network I/O helpers for the delivery
// sinks.
package netutil

import (
	"io"
	"strings"
)

// maxErrorBody bounds how much of a failed delivery response is kept
// for diagnostics: 4 KB. Sink failures are logged on every poll cycle
// during an outage, so the snippet has to stay log-line sized no matter
// what the server sends back.
const maxErrorBody = 4 << 10

// ErrorBody reads a failed HTTP response body, truncated to a
// log-friendly snippet. Read errors are ignored; the snippet may be
// partial or empty.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	snippet := strings.TrimSpace(string(data))
	if len(data) == maxErrorBody {
		snippet += " [truncated]"
	}
	return snippet
}
