// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package logbook persists every record the agent produces to daily
// JSON files, one array per calendar day, named YYYYMMDD.json. The
// files double as the backfill source after delivery outages, so every
// entry is appended in arrival order regardless of its delivery
// outcome.
package logbook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Book is a directory of daily log files. Methods are not safe for
// concurrent use; the agent's processing loop is the only writer.
type Book struct {
	directory string
	logger    *slog.Logger
}

// Config holds the parameters for opening a log book.
type Config struct {
	// Directory receives the day files. Created if absent.
	Directory string

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Open prepares the log directory and returns a Book over it.
func Open(cfg Config) (*Book, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("logbook: Directory is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logbook: Logger is required")
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("logbook: creating %s: %w", cfg.Directory, err)
	}
	return &Book{directory: cfg.Directory, logger: cfg.Logger}, nil
}

// Directory returns the directory the book writes to.
func (b *Book) Directory() string {
	return b.directory
}

// DayKey returns the YYYYMMDD file key for t, in t's own location, so
// an entry lands in the calendar day of its sensing time.
func DayKey(t time.Time) string {
	return t.Format("20060102")
}

// arrayFooter terminates every day file. Append relies on it to amend
// the array in place without rewriting the whole file.
const arrayFooter = "\n]\n"

// Append encodes entry and adds it to the day file for day, creating
// the file on first write. The file is a complete JSON array after
// every append: the closing bracket is rewritten in place rather than
// deferred to shutdown, so a crash never strands a truncated day.
func (b *Book) Append(day time.Time, entry any) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("logbook: encoding entry: %w", err)
	}

	path := b.dayPath(DayKey(day))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("logbook: opening %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("logbook: stat %s: %w", filepath.Base(path), err)
	}

	if info.Size() == 0 {
		if _, err := fmt.Fprintf(file, "[\n  %s%s", encoded, arrayFooter); err != nil {
			return fmt.Errorf("logbook: writing %s: %w", filepath.Base(path), err)
		}
		return nil
	}

	// Fast path: the file ends with the footer we wrote last time.
	// Seek over it and append the new element plus a fresh footer.
	footer := make([]byte, len(arrayFooter))
	if info.Size() >= int64(len(arrayFooter)) {
		if _, err := file.ReadAt(footer, info.Size()-int64(len(arrayFooter))); err != nil {
			return fmt.Errorf("logbook: reading tail of %s: %w", filepath.Base(path), err)
		}
	}
	if string(footer) != arrayFooter {
		return b.rewrite(file, encoded)
	}

	if _, err := file.Seek(info.Size()-int64(len(arrayFooter)), io.SeekStart); err != nil {
		return fmt.Errorf("logbook: seeking in %s: %w", filepath.Base(path), err)
	}
	if _, err := fmt.Fprintf(file, ",\n  %s%s", encoded, arrayFooter); err != nil {
		return fmt.Errorf("logbook: writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// rewrite re-encodes the whole day file around the new entry. Used
// when the file does not end with the expected footer, e.g. after a
// hand edit or an interrupted append. An unparseable file is replaced
// rather than propagated as an error: the log must keep accepting
// entries, and the damage is already on disk.
func (b *Book) rewrite(file *os.File, encoded []byte) error {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("logbook: seeking in %s: %w", filepath.Base(file.Name()), err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("logbook: reading %s: %w", filepath.Base(file.Name()), err)
	}

	var entries []json.RawMessage
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			b.logger.Warn("day file unreadable, restarting it",
				"file", filepath.Base(file.Name()), "error", err)
			entries = nil
		}
	}
	entries = append(entries, json.RawMessage(encoded))

	var buf bytes.Buffer
	buf.WriteString("[\n")
	for i, entry := range entries {
		if i > 0 {
			buf.WriteString(",\n")
		}
		buf.WriteString("  ")
		buf.Write(entry)
	}
	buf.WriteString(arrayFooter)

	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("logbook: truncating %s: %w", filepath.Base(file.Name()), err)
	}
	if _, err := file.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("logbook: rewriting %s: %w", filepath.Base(file.Name()), err)
	}
	return nil
}

// ReadDay returns the raw JSON elements of day's file in file order.
// When the plain file is gone it falls back to the zstd archive
// produced by Sweep; if both exist the plain file wins. A day with no
// file at all returns an error satisfying errors.Is(err,
// fs.ErrNotExist), which backfill treats as a day without readings.
func (b *Book) ReadDay(day time.Time) ([]json.RawMessage, error) {
	key := DayKey(day)
	data, err := os.ReadFile(b.dayPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		data, err = b.readArchive(key)
	}
	if err != nil {
		return nil, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("logbook: parsing day %s: %w", key, err)
	}
	return entries, nil
}

func (b *Book) dayPath(key string) string {
	return filepath.Join(b.directory, key+".json")
}

func (b *Book) archivePath(key string) string {
	return b.dayPath(key) + ".zst"
}
