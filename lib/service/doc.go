// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP listener lifecycle used by the
// agent's operational endpoints (/status and /metrics).
//
// The caller supplies the http.Handler; the package owns binding,
// readiness signaling, and graceful shutdown. Serve(ctx) blocks until
// the context is cancelled and in-flight requests drain.
package service
