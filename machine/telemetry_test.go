// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package machine

import (
	"encoding/csv"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Shane14705/MachineRancher/lib/clock"
)

func telemetryPrinter(t *testing.T, clk clock.Clock) *Printer {
	t.Helper()
	return NewPrinter("Voron1", PrinterOptions{
		RPCTimeout:      100 * time.Millisecond,
		LevelingTimeout: time.Second,
		SampleInterval:  time.Second,
		TempTolerance:   5,
		Lookback:        10 * time.Second,
		VisChunks:       2,
		LogDir:          t.TempDir(),
	}, clk, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
}

// waitFor polls until the condition holds or the deadline passes.
// Telemetry samples run on the loop goroutine, so tests observe their
// effects asynchronously even with a fake clock.
func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (p *Printer) windowLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printLog == nil {
		return 0
	}
	return len(p.printLog.window)
}

func (p *Printer) setReadings(extruder, bed, fan float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extruderTemp = extruder
	p.bedTemp = bed
	p.fanSpeed = fan
}

func TestTelemetryAnomalyPausesOnceAndRaisesOneEvent(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	p := telemetryPrinter(t, clk)
	p.mu.Lock()
	p.twin = Twin{ExtruderTarget: 210, BedTarget: 60}
	p.mu.Unlock()

	events, release := p.SubscribeFailures()
	defer release()

	p.setReadings(210, 60, 0.8)
	p.beginPrint("benchy.gcode")
	defer p.closePrintLog()

	// First sample: at target, heated latch engages.
	clk.WaitForWaiters(1)
	clk.Advance(time.Second)
	waitFor(t, "first sample", func() bool { return p.windowLen() >= 1 })

	// Deviant reading: extruder drifts 20C from target.
	p.setReadings(190, 60, 0.8)
	clk.Advance(time.Second)

	select {
	case event := <-events:
		if event.Machine != "Voron1" {
			t.Errorf("event machine = %q", event.Machine)
		}
		if event.Reason == "" {
			t.Error("event reason is empty")
		}
		if len(event.Series) == 0 {
			t.Error("event carries no telemetry series")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no failure event raised")
	}

	waitFor(t, "pause transition", func() bool { return p.State() == StatePaused })

	// The loop stopped itself; further deviant samples must not raise
	// a second event.
	clk.Advance(3 * time.Second)
	select {
	case <-events:
		t.Fatal("second failure event raised for the same print")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTelemetryNoAnomalyBeforeHeatedLatch(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	p := telemetryPrinter(t, clk)
	p.mu.Lock()
	p.twin = Twin{ExtruderTarget: 210, BedTarget: 60}
	p.mu.Unlock()

	events, release := p.SubscribeFailures()
	defer release()

	// Still heating: far below target. Deviation alone must not trip
	// the detector before the latch.
	p.setReadings(25, 22, 0)
	p.beginPrint("benchy.gcode")
	defer p.closePrintLog()

	clk.WaitForWaiters(1)
	clk.Advance(time.Second)
	waitFor(t, "first sample", func() bool { return p.windowLen() >= 1 })
	clk.Advance(time.Second)
	waitFor(t, "second sample", func() bool { return p.windowLen() >= 2 })

	select {
	case <-events:
		t.Fatal("failure event raised while still heating")
	default:
	}
	if p.State() != StatePrinting {
		t.Errorf("state = %q, want %q", p.State(), StatePrinting)
	}

	p.stopTelemetry()
}

func TestTelemetryStopsWhenStateLeavesPrinting(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	p := telemetryPrinter(t, clk)

	p.beginPrint("benchy.gcode")
	defer p.closePrintLog()
	clk.WaitForWaiters(1)

	p.setState(StateAvailable)
	clk.Advance(time.Second)

	waitFor(t, "loop exit", func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.telemetry == nil
	})
}

func TestTelemetryWritesCSVRows(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	p := telemetryPrinter(t, clk)
	p.mu.Lock()
	p.twin = Twin{ExtruderTarget: 210, BedTarget: 60}
	p.mu.Unlock()

	p.setReadings(205.5, 58.25, 0.6)
	p.beginPrint("benchy.gcode")

	clk.WaitForWaiters(1)
	clk.Advance(time.Second)
	waitFor(t, "first sample", func() bool { return p.windowLen() >= 1 })
	clk.Advance(time.Second)
	waitFor(t, "second sample", func() bool { return p.windowLen() >= 2 })

	p.stopTelemetry()

	p.mu.Lock()
	path := p.printLog.path
	p.mu.Unlock()
	p.closePrintLog()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows (incl. header), want 3", len(rows))
	}
	if rows[0][0] != "timestamp" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "205.50" || rows[1][2] != "58.25" || rows[1][3] != "0.60" {
		t.Errorf("first data row = %v", rows[1])
	}

	if filepath.Dir(path) != filepath.Clean(p.opts.LogDir) {
		t.Errorf("log written outside LogDir: %s", path)
	}
}

func TestDownsample(t *testing.T) {
	rows := [][]float64{
		{1, 10, 100},
		{2, 20, 200},
		{3, 30, 300},
		{4, 40, 400},
		{5, 50, 500},
	}

	t.Run("even split", func(t *testing.T) {
		reduced := downsample(rows[:4], 2)
		want := [][]float64{{1.5, 15, 150}, {3.5, 35, 350}}
		assertSeries(t, reduced, want)
	})

	t.Run("uneven remainder shortens final chunk", func(t *testing.T) {
		// 5 rows into 2 chunks: size ceil(5/2)=3, chunks of 3 and 2.
		reduced := downsample(rows, 2)
		want := [][]float64{{2, 20, 200}, {4.5, 45, 450}}
		assertSeries(t, reduced, want)
	})

	t.Run("more chunks than rows", func(t *testing.T) {
		reduced := downsample(rows[:2], 10)
		want := [][]float64{{1, 10, 100}, {2, 20, 200}}
		assertSeries(t, reduced, want)
	})

	t.Run("empty input", func(t *testing.T) {
		if got := downsample(nil, 4); got != nil {
			t.Errorf("downsample(nil) = %v, want nil", got)
		}
	})
}

func assertSeries(t *testing.T, got, want [][]float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		for j := range want[i] {
			if math.Abs(got[i][j]-want[i][j]) > 1e-9 {
				t.Errorf("row %d col %d = %v, want %v", i, j, got[i][j], want[i][j])
			}
		}
	}
}

func TestFailureFeedSubscriptionLifecycle(t *testing.T) {
	var feed failureFeed

	first, releaseFirst := feed.Subscribe()
	second, releaseSecond := feed.Subscribe()
	defer releaseSecond()

	feed.publish(FailureEvent{Machine: "Voron1", Reason: "test"})
	if event := <-first; event.Machine != "Voron1" {
		t.Errorf("first subscriber got %+v", event)
	}
	if event := <-second; event.Machine != "Voron1" {
		t.Errorf("second subscriber got %+v", event)
	}

	// Released subscribers see a closed channel and no more events.
	releaseFirst()
	releaseFirst() // idempotent
	if _, open := <-first; open {
		t.Error("released subscriber channel still open")
	}

	feed.publish(FailureEvent{Machine: "Voron1", Reason: "again"})
	if event := <-second; event.Reason != "again" {
		t.Errorf("second subscriber got %+v", event)
	}
}
