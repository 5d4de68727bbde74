// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package logbook

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Retention controls what Sweep does with old day files. Zero values
// disable the corresponding step.
type Retention struct {
	// CompressAfterDays is the age in days past which a plain day
	// file is recoded as zstd. Day files still receiving appends are
	// never this old.
	CompressAfterDays int

	// DeleteAfterDays is the age in days past which day files, plain
	// or compressed, are removed.
	DeleteAfterDays int
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("logbook: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("logbook: zstd decoder initialization failed: " + err.Error())
	}
}

// dayFilePattern matches day file names, plain or archived, and
// captures the YYYYMMDD key.
var dayFilePattern = regexp.MustCompile(`^(\d{8})\.json(\.zst)?$`)

// Sweep applies the retention policy as of now: day files older than
// CompressAfterDays are recoded as zstd archives, and files older than
// DeleteAfterDays are removed. Ages compare calendar day keys, so a
// file becomes eligible at local midnight, not mid-day. Errors on
// individual files are logged and skipped; the sweep continues.
func (b *Book) Sweep(now time.Time, policy Retention) error {
	entries, err := os.ReadDir(b.directory)
	if err != nil {
		return fmt.Errorf("logbook: listing %s: %w", b.directory, err)
	}

	var compressCutoff, deleteCutoff string
	if policy.CompressAfterDays > 0 {
		compressCutoff = DayKey(now.AddDate(0, 0, -policy.CompressAfterDays))
	}
	if policy.DeleteAfterDays > 0 {
		deleteCutoff = DayKey(now.AddDate(0, 0, -policy.DeleteAfterDays))
	}

	var compressed, deleted int
	for _, entry := range entries {
		match := dayFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		key := match[1]
		path := filepath.Join(b.directory, entry.Name())

		if deleteCutoff != "" && key < deleteCutoff {
			if err := os.Remove(path); err != nil {
				b.logger.Warn("retention delete failed", "file", entry.Name(), "error", err)
				continue
			}
			deleted++
			continue
		}

		isArchive := strings.HasSuffix(entry.Name(), ".zst")
		if !isArchive && compressCutoff != "" && key < compressCutoff {
			if err := b.compressDay(key); err != nil {
				b.logger.Warn("retention compress failed", "file", entry.Name(), "error", err)
				continue
			}
			compressed++
		}
	}

	if compressed > 0 || deleted > 0 {
		b.logger.Info("log retention sweep",
			"compressed", compressed, "deleted", deleted)
	}
	return nil
}

// compressDay recodes one plain day file as a zstd archive. The
// archive is written first and the plain file removed after, so an
// interruption leaves both rather than neither.
func (b *Book) compressDay(key string) error {
	data, err := os.ReadFile(b.dayPath(key))
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.archivePath(key), zstdEncoder.EncodeAll(data, nil), 0o644); err != nil {
		return err
	}
	return os.Remove(b.dayPath(key))
}

// readArchive loads and decodes the zstd archive for key.
func (b *Book) readArchive(key string) ([]byte, error) {
	compressed, err := os.ReadFile(b.archivePath(key))
	if err != nil {
		return nil, err
	}
	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("logbook: decoding archive %s: %w", key, err)
	}
	return data, nil
}
