// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for slopewatch
// binaries. These functions centralize the two legitimate raw I/O
// patterns that exist before or after the structured logger:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Process exit after an unrecoverable error in main().
//
// All other raw I/O in the agent belongs to the structured logger. The
// slopewatch-logs CLI additionally prints entries to stdout.
package process
