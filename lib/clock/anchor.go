// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Anchor converts the clock's monotonic progression into absolute
// timestamps that do not move when the wall clock is stepped (NTP
// adjustment, manual date change). It captures one instant at
// construction — a single Now() call carries both the wall reading and
// the monotonic reading — and derives every later timestamp as
//
//	anchored wall instant + elapsed monotonic time since the anchor
//
// so that intervals between samples are exact even if the wall clock
// jumped in between. Resync re-captures the anchor, re-tying the
// monotonic stream to the current wall clock.
//
// An Anchor is not safe for concurrent use. The agent's single
// processing loop owns it; Resync must be called from that loop.
type Anchor struct {
	clock Clock
	base  time.Time
}

// NewAnchor captures the current instant of clk as the anchor.
func NewAnchor(clk Clock) *Anchor {
	return &Anchor{clock: clk, base: clk.Now()}
}

// Now returns the anchored wall instant plus the monotonic time elapsed
// since the anchor was captured. With a real clock both operands carry
// monotonic readings, so the subtraction is immune to wall steps; with
// a FakeClock the arithmetic is plain and fully deterministic.
func (a *Anchor) Now() time.Time {
	return a.base.Add(a.clock.Now().Sub(a.base))
}

// Resync re-captures the anchor at the current instant. Timestamps
// produced after Resync reflect wall-clock adjustments made since the
// previous anchor; timestamps produced before it do not.
func (a *Anchor) Resync() {
	a.base = a.clock.Now()
}
