// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for slopewatch
// packages.
//
// [RequireReceive] and [RequireSend] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls. Agent tests otherwise
// drive time exclusively through clock.Fake; these helpers are the one
// place real wall-clock timeouts appear, and only to keep a broken
// test from hanging the suite.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no slopewatch-internal dependencies.
package testutil
