// Copyright 2026 The Slopewatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/slopewatch/slopewatch/lib/clock"
	"github.com/slopewatch/slopewatch/lib/logbook"
	"github.com/slopewatch/slopewatch/lib/modbus"
	"github.com/slopewatch/slopewatch/lib/testutil"
	"github.com/slopewatch/slopewatch/lib/tilt"
)

// agentEpoch sits 700ms into its minute, so with the default 2 second
// sample period the first poll aligns 1300ms later, at 09:00:02.000.
var agentEpoch = time.Date(2026, 3, 14, 9, 0, 0, 700e6, time.UTC)

const alignWait = 1300 * time.Millisecond

// fakePort is an in-memory serial port. Reads block until the test
// queues bytes, injects an error, or the port is closed; writes are
// captured on a channel.
type fakePort struct {
	reads  chan []byte
	errs   chan error
	writes chan []byte

	failWrites atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:  make(chan []byte, 8),
		errs:   make(chan error, 1),
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case chunk := <-p.reads:
		return copy(buf, chunk), nil
	case err := <-p.errs:
		return 0, err
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	if p.failWrites.Load() {
		return 0, errors.New("input/output error")
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	p.writes <- chunk
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// channelSink forwards primary deliveries onto a channel so tests can
// observe pipeline output produced on the agent goroutine.
type channelSink struct {
	delivered chan any
}

func (s *channelSink) Deliver(_ context.Context, body any) error {
	s.delivered <- body
	return nil
}

// sensorFrame builds a valid response frame for slave 1 carrying raw
// axis values in thousandths of a degree.
func sensorFrame(x, y, z int32) []byte {
	header := modbus.ResponseHeader(1, registerCount)
	frame := make([]byte, 0, tilt.FrameLength)
	frame = append(frame, header[:]...)
	for _, v := range []int32{x, y, z} {
		u := uint32(v)
		frame = append(frame, byte(u>>8), byte(u), byte(u>>24), byte(u>>16))
	}
	return modbus.AppendCRC(frame)
}

// agentFixture wires an Agent to fake hardware: a fake clock, an
// in-memory serial port, and a channel-backed primary sink.
type agentFixture struct {
	agent  *Agent
	clk    *clock.FakeClock
	port   *fakePort
	sink   *channelSink
	book   *logbook.Book
	resync chan os.Signal

	cancel  context.CancelFunc
	done    chan error
	stopped bool
}

func newAgentFixture(t *testing.T, cfg *Config) *agentFixture {
	t.Helper()

	logger := testLogger(t)
	book, err := logbook.Open(logbook.Config{
		Directory: t.TempDir(),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("opening logbook: %v", err)
	}

	clk := clock.Fake(agentEpoch)
	port := newFakePort()
	sink := &channelSink{delivered: make(chan any, 8)}
	resync := make(chan os.Signal)

	pipe := &pipeline{
		deviceID: cfg.DeviceID,
		gap:      cfg.GapThreshold(),
		probes:   &fakeProbes{metrics: tilt.Metrics{CPUTemp: floatPtr(41.2)}},
		book:     book,
		primary:  sink,
		stats:    newStats(cfg.DeviceID, agentEpoch),
		logger:   logger,
	}

	return &agentFixture{
		agent:  newAgent(cfg, port, clk, pipe, resync, logger),
		clk:    clk,
		port:   port,
		sink:   sink,
		book:   book,
		resync: resync,
		done:   make(chan error, 1),
	}
}

// start launches Run and registers a cleanup that shuts it down unless
// the test already has via stop.
func (f *agentFixture) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.agent.Run(ctx) }()

	t.Cleanup(func() {
		if f.stopped {
			return
		}
		cancel()
		select {
		case <-f.done:
		case <-time.After(5 * time.Second):
			t.Errorf("agent did not stop during cleanup")
		}
	})
}

// stop cancels the run context and returns Run's error.
func (f *agentFixture) stop(t *testing.T) error {
	t.Helper()
	f.stopped = true
	f.cancel()
	return testutil.RequireReceive(t, f.done, 5*time.Second, "agent stopped")
}

// alignAndPoll advances the fake clock through the alignment delay and
// returns the first poll command written to the port. Run registers two
// timers before its loop (the alignment timer and the daily sweep
// ticker), which is what WaitForTimers synchronizes on.
func (f *agentFixture) alignAndPoll(t *testing.T) []byte {
	t.Helper()
	f.clk.WaitForTimers(2)
	f.clk.Advance(alignWait)
	return testutil.RequireReceive(t, f.port.writes, 5*time.Second, "aligned poll")
}

// awaitCounter polls a counter until it reaches want. Counters are
// incremented on the agent goroutine, so tests cannot always order a
// read after the increment with channels alone.
func awaitCounter(t *testing.T, counter *metrics.Counter, want uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for counter.Get() != want {
		if time.Now().After(deadline) {
			t.Fatalf("counter = %d, want %d", counter.Get(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAlignmentDelay(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		period time.Duration
		want   time.Duration
	}{
		{
			name:   "top of minute waits a full period",
			now:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
			period: 2 * time.Second,
			want:   2 * time.Second,
		},
		{
			name:   "on a boundary waits a full period",
			now:    time.Date(2026, 3, 14, 9, 0, 4, 0, time.UTC),
			period: 2 * time.Second,
			want:   2 * time.Second,
		},
		{
			name:   "mid period waits the remainder",
			now:    time.Date(2026, 3, 14, 9, 0, 1, 500e6, time.UTC),
			period: 2 * time.Second,
			want:   500 * time.Millisecond,
		},
		{
			name:   "just past a boundary waits almost a full period",
			now:    time.Date(2026, 3, 14, 9, 0, 2, 1e6, time.UTC),
			period: 2 * time.Second,
			want:   1999 * time.Millisecond,
		},
		{
			name:   "end of minute rolls into the next",
			now:    time.Date(2026, 3, 14, 9, 0, 59, 999e6, time.UTC),
			period: 2 * time.Second,
			want:   time.Millisecond,
		},
		{
			name:   "sub-second period",
			now:    time.Date(2026, 3, 14, 9, 0, 0, 250e6, time.UTC),
			period: 500 * time.Millisecond,
			want:   250 * time.Millisecond,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := alignmentDelay(tc.now, tc.period); got != tc.want {
				t.Errorf("alignmentDelay(%v, %v) = %v, want %v",
					tc.now, tc.period, got, tc.want)
			}
		})
	}
}

func TestAgentAlignsFirstPoll(t *testing.T) {
	fix := newAgentFixture(t, validConfig())
	fix.start(t)

	command := fix.alignAndPoll(t)
	want := modbus.ReadHoldingRequest(1, 0, registerCount)
	if !bytes.Equal(command, want) {
		t.Errorf("poll command = %x, want %x", command, want)
	}
}

func TestAgentPollsEveryPeriod(t *testing.T) {
	fix := newAgentFixture(t, validConfig())
	fix.start(t)
	fix.alignAndPoll(t)

	// The period ticker registers after the aligned poll fires.
	fix.clk.WaitForTimers(2)
	for i := 0; i < 3; i++ {
		fix.clk.Advance(2 * time.Second)
		testutil.RequireReceive(t, fix.port.writes, 5*time.Second, "poll %d", i+2)
	}
}

func TestAgentProcessesSensorResponse(t *testing.T) {
	fix := newAgentFixture(t, validConfig())
	fix.start(t)
	fix.alignAndPoll(t)

	fix.port.reads <- sensorFrame(100, -2500, 91425)

	body := testutil.RequireReceive(t, fix.sink.delivered, 5*time.Second, "primary delivery")
	entry, ok := body.(tilt.ReadingEntry)
	if !ok {
		t.Fatalf("delivered body is %T, want tilt.ReadingEntry", body)
	}
	if entry.DeviceID != "slope-07" {
		t.Errorf("device_id = %q, want slope-07", entry.DeviceID)
	}
	if entry.AngX != "0.100" || entry.AngY != "-2.500" || entry.AngZ != "91.425" {
		t.Errorf("angles = %q %q %q, want 0.100 -2.500 91.425",
			entry.AngX, entry.AngY, entry.AngZ)
	}
	want := time.Date(2026, 3, 14, 9, 0, 2, 0, time.UTC)
	if !entry.SensingTime.Equal(want) {
		t.Errorf("sensing_time = %v, want %v", entry.SensingTime.Time, want)
	}
	if entry.CPUTemp == nil || *entry.CPUTemp != 41.2 {
		t.Errorf("cpu_temp = %v, want 41.2", entry.CPUTemp)
	}
}

func TestAgentCorruptFrameDeliversErrorRecord(t *testing.T) {
	fix := newAgentFixture(t, validConfig())
	fix.start(t)
	fix.alignAndPoll(t)

	frame := sensorFrame(100, -2500, 91425)
	frame[5] ^= 0xFF
	fix.port.reads <- frame

	body := testutil.RequireReceive(t, fix.sink.delivered, 5*time.Second, "error delivery")
	entry, ok := body.(tilt.ErrorEntry)
	if !ok {
		t.Fatalf("delivered body is %T, want tilt.ErrorEntry", body)
	}
	if entry.Error != tilt.ReasonCRCFailed {
		t.Errorf("error = %q, want %q", entry.Error, tilt.ReasonCRCFailed)
	}
}

// A gap wider than the threshold between two delivered readings makes
// the agent replay logged readings from inside the gap.
func TestAgentGapTriggersBackfill(t *testing.T) {
	fix := newAgentFixture(t, validConfig())
	missed := time.Date(2026, 3, 14, 9, 0, 4, 0, time.UTC)
	appendReading(t, fix.book, missed)
	fix.start(t)
	fix.alignAndPoll(t)

	fix.port.reads <- sensorFrame(100, -2500, 91425)
	testutil.RequireReceive(t, fix.sink.delivered, 5*time.Second, "first delivery")

	// Two silent periods; the second poll gets no response, so the
	// next delivered reading sits 4s after the last success against a
	// 3s gap threshold.
	fix.clk.WaitForTimers(2)
	fix.clk.Advance(2 * time.Second)
	testutil.RequireReceive(t, fix.port.writes, 5*time.Second, "poll 2")
	fix.clk.Advance(2 * time.Second)
	testutil.RequireReceive(t, fix.port.writes, 5*time.Second, "poll 3")

	fix.port.reads <- sensorFrame(200, -2500, 91425)

	body := testutil.RequireReceive(t, fix.sink.delivered, 5*time.Second, "trigger delivery")
	trigger, ok := body.(tilt.ReadingEntry)
	if !ok {
		t.Fatalf("trigger body is %T, want tilt.ReadingEntry", body)
	}
	if trigger.AngX != "0.200" {
		t.Errorf("trigger ang_x = %q, want 0.200", trigger.AngX)
	}
	replayed := testutil.RequireReceive(t, fix.sink.delivered, 5*time.Second, "replayed delivery")
	entry, replayedOK := replayed.(tilt.ReadingEntry)
	if !replayedOK {
		t.Fatalf("replayed body is %T, want tilt.ReadingEntry", replayed)
	}
	if !entry.SensingTime.Equal(missed) {
		t.Errorf("replayed sensing_time = %v, want %v", entry.SensingTime.Time, missed)
	}
	awaitCounter(t, fix.agent.stats.backfillEpisodes, 1)
}

func TestAgentResyncKeepsPolling(t *testing.T) {
	fix := newAgentFixture(t, validConfig())
	fix.start(t)
	fix.alignAndPoll(t)

	// The resync channel is unbuffered, so the send completes only
	// once the agent's loop has taken the signal.
	testutil.RequireSend(t, fix.resync, os.Signal(syscall.SIGHUP), 5*time.Second, "resync signal")

	fix.clk.WaitForTimers(2)
	fix.clk.Advance(2 * time.Second)
	testutil.RequireReceive(t, fix.port.writes, 5*time.Second, "poll after resync")
}

func TestAgentReadErrorKeepsPolling(t *testing.T) {
	fix := newAgentFixture(t, validConfig())
	fix.start(t)
	fix.alignAndPoll(t)

	fix.port.errs <- errors.New("device unplugged")
	awaitCounter(t, fix.agent.stats.serialReadErrors, 1)

	fix.clk.WaitForTimers(2)
	fix.clk.Advance(2 * time.Second)
	testutil.RequireReceive(t, fix.port.writes, 5*time.Second, "poll after read error")
}

func TestAgentWriteErrorKeepsSchedule(t *testing.T) {
	fix := newAgentFixture(t, validConfig())
	fix.port.failWrites.Store(true)
	fix.start(t)

	fix.clk.WaitForTimers(2)
	fix.clk.Advance(alignWait)

	// The aligned poll fails its write; the ticker registers
	// regardless, which is the synchronization point for clearing the
	// failure.
	fix.clk.WaitForTimers(2)
	fix.port.failWrites.Store(false)

	fix.clk.Advance(2 * time.Second)
	testutil.RequireReceive(t, fix.port.writes, 5*time.Second, "poll after write error")

	if got := fix.agent.stats.serialWriteErrors.Get(); got != 1 {
		t.Errorf("serial write errors = %d, want 1", got)
	}
	if got := fix.agent.stats.polls.Get(); got != 2 {
		t.Errorf("polls = %d, want 2", got)
	}
}

func TestAgentShutdownClosesPort(t *testing.T) {
	fix := newAgentFixture(t, validConfig())
	fix.start(t)
	fix.alignAndPoll(t)

	// Queue a partial frame the shutdown drain will discard.
	fix.port.reads <- sensorFrame(100, -2500, 91425)[:5]

	if err := fix.stop(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if !fix.port.isClosed() {
		t.Error("serial port left open after shutdown")
	}
}

// The startup sweep applies the retention policy before the first poll
// is even scheduled.
func TestAgentStartupSweepCompressesOldDays(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.CompressAfterDays = 7

	fix := newAgentFixture(t, cfg)
	oldDay := agentEpoch.AddDate(0, 0, -10)
	appendReading(t, fix.book, oldDay)

	fix.start(t)
	fix.clk.WaitForTimers(2)

	key := logbook.DayKey(oldDay)
	if _, err := os.Stat(filepath.Join(fix.book.Directory(), key+".json.zst")); err != nil {
		t.Errorf("archived day file missing: %v", err)
	}
	_, err := os.Stat(filepath.Join(fix.book.Directory(), key+".json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("plain day file still present, stat err = %v", err)
	}
}

func TestReadPortForwardsChunks(t *testing.T) {
	port := newFakePort()
	agent := &Agent{port: port}

	chunks := make(chan []byte, 8)
	done := make(chan error, 1)
	go func() { done <- agent.readPort(chunks) }()

	port.reads <- []byte{0x01, 0x03}
	port.reads <- []byte{0x0C, 0xFF}

	first := testutil.RequireReceive(t, chunks, 5*time.Second, "first chunk")
	second := testutil.RequireReceive(t, chunks, 5*time.Second, "second chunk")
	if !bytes.Equal(first, []byte{0x01, 0x03}) || !bytes.Equal(second, []byte{0x0C, 0xFF}) {
		t.Errorf("chunks = %x %x, want 0103 0cff", first, second)
	}

	port.errs <- errors.New("device unplugged")
	if err := testutil.RequireReceive(t, done, 5*time.Second, "reader exit"); err == nil {
		t.Error("readPort returned nil after a read error")
	}
	if _, ok := <-chunks; ok {
		t.Error("chunks channel not closed after reader exit")
	}
}

func TestReadPortTreatsEOFAsClean(t *testing.T) {
	port := newFakePort()
	agent := &Agent{port: port}

	chunks := make(chan []byte, 8)
	done := make(chan error, 1)
	go func() { done <- agent.readPort(chunks) }()

	port.Close()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "reader exit"); err != nil {
		t.Errorf("readPort returned %v after port close, want nil", err)
	}
}
