// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

// Slopewatch-logs prints the entries recorded in the agent's daily log
// files, plain or zstd-archived, for operator inspection. It reads the
// same directory the agent writes, so it can run beside a live agent.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/slopewatch/slopewatch/lib/logbook"
	"github.com/slopewatch/slopewatch/lib/process"
	"github.com/slopewatch/slopewatch/lib/tilt"
	"github.com/slopewatch/slopewatch/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		dir         string
		day         string
		from        string
		to          string
		errorsOnly  bool
		asJSON      bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("slopewatch-logs", pflag.ContinueOnError)
	flagSet.StringVar(&dir, "dir", "/var/lib/slopewatch", "daily log directory")
	flagSet.StringVar(&day, "day", "", "print a single day (YYYY-MM-DD)")
	flagSet.StringVar(&from, "from", "", "start of the day range (YYYY-MM-DD, default today)")
	flagSet.StringVar(&to, "to", "", "end of the day range (YYYY-MM-DD, default today)")
	flagSet.BoolVar(&errorsOnly, "errors-only", false, "print only decode-error entries")
	flagSet.BoolVar(&asJSON, "json", false, "print raw JSON entries, one per line")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		fmt.Printf("slopewatch-logs %s\n", version.Info())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	start, end, err := resolveRange(day, from, to, time.Now())
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	book, err := logbook.Open(logbook.Config{
		Directory: dir,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	return dump(os.Stdout, os.Stderr, book, start, end, dumpOptions{
		errorsOnly: errorsOnly,
		asJSON:     asJSON,
	})
}

// resolveRange turns the day selection flags into an inclusive midnight
// range. With no selection both ends are today; --day pins both ends to
// one day and cannot be combined with --from or --to.
func resolveRange(day, from, to string, now time.Time) (time.Time, time.Time, error) {
	if day != "" && (from != "" || to != "") {
		return time.Time{}, time.Time{}, errors.New("--day cannot be combined with --from or --to")
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start, end := today, today

	var err error
	if day != "" {
		if start, err = parseDay(day); err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = start
	}
	if from != "" {
		if start, err = parseDay(from); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if to != "" {
		if end, err = parseDay(to); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("range ends before it starts: %s after %s",
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return start, end, nil
}

// parseDay parses an operator-supplied day, in the local timezone to
// match the keys the agent files entries under. Both 2026-03-14 and
// 20260314 forms are accepted.
func parseDay(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, "20060102"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid day %q (want YYYY-MM-DD)", s)
}

// dumpOptions selects which entries print and in what form.
type dumpOptions struct {
	errorsOnly bool
	asJSON     bool
}

// dump prints the entries of every day in the inclusive range, oldest
// day first, preserving each file's append order. Days without a file
// are skipped. Unreadable days and malformed entries are reported on
// errw and make dump return an error after the readable remainder has
// printed.
func dump(w, errw io.Writer, book *logbook.Book, start, end time.Time, opts dumpOptions) error {
	var unreadable bool

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		messages, err := book.ReadDay(day)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			fmt.Fprintf(errw, "slopewatch-logs: %v\n", err)
			unreadable = true
			continue
		}

		for _, raw := range messages {
			var entry tilt.Entry
			if err := json.Unmarshal(raw, &entry); err != nil {
				fmt.Fprintf(errw, "slopewatch-logs: day %s: malformed entry: %v\n",
					logbook.DayKey(day), err)
				unreadable = true
				continue
			}
			if opts.errorsOnly && entry.HasAngles() {
				continue
			}
			if opts.asJSON {
				fmt.Fprintln(w, string(raw))
			} else {
				fmt.Fprintln(w, formatEntry(entry))
			}
		}
	}

	if unreadable {
		return errors.New("some log entries could not be read")
	}
	return nil
}

// formatEntry renders one log entry as a single human-readable line.
func formatEntry(entry tilt.Entry) string {
	var b strings.Builder
	b.WriteString(entry.SensingTime.Format(tilt.TimeLayout))

	if !entry.HasAngles() {
		fmt.Fprintf(&b, "  error: %s", entry.Error)
		return b.String()
	}

	fmt.Fprintf(&b, "  x=%s y=%s z=%s", entry.AngX, entry.AngY, entry.AngZ)
	for _, m := range []struct {
		name  string
		value *float64
	}{
		{"cpu_temp", entry.CPUTemp},
		{"cpu_voltage", entry.CPUVoltage},
		{"rssi", entry.RSSI},
		{"mem_usage", entry.MemUsage},
		{"disk_usage", entry.DiskUsage},
	} {
		if m.value != nil {
			fmt.Fprintf(&b, " %s=%s", m.name, strconv.FormatFloat(*m.value, 'f', -1, 64))
		}
	}
	return b.String()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Slopewatch daily log inspector.

Prints the entries recorded in the agent's daily log files, plain or
zstd-archived. Days default to today; select others with --day or a
--from/--to range.

Usage:
  slopewatch-logs [flags]

Examples:
  # Today's entries
  slopewatch-logs --dir /var/lib/slopewatch

  # One specific day, decode errors only
  slopewatch-logs --day 2026-03-13 --errors-only

  # A week as raw JSON, for piping into jq
  slopewatch-logs --from 2026-03-01 --to 2026-03-07 --json

Flags:
%s`, flagSet.FlagUsages())
}
