// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestAnchorTracksElapsedTime(t *testing.T) {
	clock := Fake(epoch)
	anchor := NewAnchor(clock)

	if got := anchor.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() at anchor = %v, want %v", got, epoch)
	}

	clock.Advance(1500 * time.Millisecond)
	want := epoch.Add(1500 * time.Millisecond)
	if got := anchor.Now(); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}

	clock.Advance(30 * time.Minute)
	want = want.Add(30 * time.Minute)
	if got := anchor.Now(); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestAnchorImmuneToWallSteps(t *testing.T) {
	// With the real clock, a wall step between samples changes
	// time.Now() but not the monotonic delta. Verify the arithmetic:
	// an anchored base plus a monotonic-derived delta ignores the
	// wall component of the later reading.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := base.Add(5 * time.Second)

	// Sub on wall-only times is plain subtraction; the anchor's
	// output depends only on the delta, which is what the monotonic
	// reading guarantees in production.
	delta := later.Sub(base)
	if got := base.Add(delta); !got.Equal(later) {
		t.Fatalf("anchored time = %v, want %v", got, later)
	}
}

func TestAnchorResync(t *testing.T) {
	clock := Fake(epoch)
	anchor := NewAnchor(clock)

	clock.Advance(10 * time.Second)
	anchor.Resync()

	// After resync the anchor reflects the clock's current instant,
	// and subsequent deltas accrue from there.
	want := epoch.Add(10 * time.Second)
	if got := anchor.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Resync = %v, want %v", got, want)
	}

	clock.Advance(2 * time.Second)
	want = want.Add(2 * time.Second)
	if got := anchor.Now(); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}
