// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package logbook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func appendOn(t *testing.T, book *Book, day time.Time, seq int) {
	t.Helper()
	if err := book.Append(day, point{Seq: seq}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestSweepCompressesOldDays(t *testing.T) {
	book := testBook(t)
	now := testDay
	appendOn(t, book, now, 1)
	appendOn(t, book, now.AddDate(0, 0, -3), 2)
	appendOn(t, book, now.AddDate(0, 0, -10), 3)

	err := book.Sweep(now, Retention{CompressAfterDays: 7})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	oldKey := DayKey(now.AddDate(0, 0, -10))
	if _, err := os.Stat(book.dayPath(oldKey)); !os.IsNotExist(err) {
		t.Errorf("plain file for %s still present after compression", oldKey)
	}
	if _, err := os.Stat(book.archivePath(oldKey)); err != nil {
		t.Errorf("archive for %s missing: %v", oldKey, err)
	}

	// Recent days stay plain.
	for _, day := range []time.Time{now, now.AddDate(0, 0, -3)} {
		if _, err := os.Stat(book.dayPath(DayKey(day))); err != nil {
			t.Errorf("plain file for %s missing: %v", DayKey(day), err)
		}
		if _, err := os.Stat(book.archivePath(DayKey(day))); !os.IsNotExist(err) {
			t.Errorf("unexpected archive for %s", DayKey(day))
		}
	}
}

func TestReadDayFallsBackToArchive(t *testing.T) {
	book := testBook(t)
	old := testDay.AddDate(0, 0, -10)
	appendOn(t, book, old, 42)

	if err := book.Sweep(testDay, Retention{CompressAfterDays: 7}); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	raw, err := book.ReadDay(old)
	if err != nil {
		t.Fatalf("ReadDay after compression: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("ReadDay returned %d entries, want 1", len(raw))
	}
	var entry point
	if err := json.Unmarshal(raw[0], &entry); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if entry.Seq != 42 {
		t.Errorf("Seq = %d, want 42", entry.Seq)
	}
}

func TestSweepDeletesAncientDays(t *testing.T) {
	book := testBook(t)
	ancient := testDay.AddDate(0, 0, -400)
	appendOn(t, book, ancient, 1)
	appendOn(t, book, ancient.AddDate(0, 0, 1), 2)

	// Archive one of the two so deletion covers both flavors.
	if err := book.compressDay(DayKey(ancient)); err != nil {
		t.Fatalf("compressDay: %v", err)
	}

	err := book.Sweep(testDay, Retention{CompressAfterDays: 7, DeleteAfterDays: 365})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(book.archivePath(DayKey(ancient))); !os.IsNotExist(err) {
		t.Error("archived ancient day survived the sweep")
	}
	if _, err := os.Stat(book.dayPath(DayKey(ancient.AddDate(0, 0, 1)))); !os.IsNotExist(err) {
		t.Error("plain ancient day survived the sweep")
	}
}

func TestSweepZeroPolicyLeavesEverything(t *testing.T) {
	book := testBook(t)
	appendOn(t, book, testDay.AddDate(0, 0, -400), 1)

	if err := book.Sweep(testDay, Retention{}); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	key := DayKey(testDay.AddDate(0, 0, -400))
	if _, err := os.Stat(book.dayPath(key)); err != nil {
		t.Errorf("day file touched by zero policy: %v", err)
	}
}

func TestSweepIgnoresForeignFiles(t *testing.T) {
	book := testBook(t)
	foreign := filepath.Join(book.directory, "notes.txt")
	if err := os.WriteFile(foreign, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := book.Sweep(testDay, Retention{CompressAfterDays: 1, DeleteAfterDays: 2}); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Errorf("foreign file touched by sweep: %v", err)
	}
}
