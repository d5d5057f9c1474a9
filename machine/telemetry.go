// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package machine

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// printLog is the per-print telemetry state. It survives pause/resume
// cycles (the loop is recreated, the log is not) so the CSV file stays
// append-only per print and the failure guard holds for the print's
// whole lifetime.
type printLog struct {
	filename string
	path     string
	file     *os.File
	writer   *csv.Writer

	// window retains the most recent maxRows sampled rows
	// ([extruder, bed, fan]) for failure-event reduction.
	window  [][]float64
	maxRows int

	// heated latches true once extruder and bed both first reach the
	// twin's targets. Anomaly detection only runs after the latch.
	heated bool

	// failureRaised guarantees at most one pause action and one
	// failure event per print, even across resume cycles.
	failureRaised bool
}

// telemetryLoop is one running sampling loop's lifecycle handle.
type telemetryLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// beginPrint opens the per-print log and starts the telemetry loop.
// Called after the device accepted the print start command.
func (p *Printer) beginPrint(filename string) {
	if err := p.openPrintLog(filename); err != nil {
		// Telemetry is best-effort: a print without a log file still
		// prints, it just loses anomaly detection history.
		p.logger.Error("opening print log failed", "error", err)
	}
	p.setState(StatePrinting)
	p.startTelemetry()
}

// openPrintLog creates the append-only CSV log for this print.
func (p *Printer) openPrintLog(filename string) error {
	if err := os.MkdirAll(p.opts.LogDir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.csv",
		p.name,
		p.clk.Now().UTC().Format("20060102-150405"),
		uuid.NewString()[:8],
	)
	path := filepath.Join(p.opts.LogDir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("creating print log %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"timestamp", "extruder_temp", "bed_temp", "fan_speed"}); err != nil {
		file.Close()
		return fmt.Errorf("writing log header: %w", err)
	}
	writer.Flush()

	maxRows := 1
	if p.opts.SampleInterval > 0 {
		if n := int(p.opts.Lookback / p.opts.SampleInterval); n > 1 {
			maxRows = n
		}
	}

	p.mu.Lock()
	p.printLog = &printLog{
		filename: filename,
		path:     path,
		file:     file,
		writer:   writer,
		maxRows:  maxRows,
	}
	p.mu.Unlock()

	p.logger.Info("print log opened", "path", path, "file", filename)
	return nil
}

// closePrintLog flushes and closes the current print log, if any.
func (p *Printer) closePrintLog() {
	p.mu.Lock()
	log := p.printLog
	p.printLog = nil
	p.mu.Unlock()

	if log == nil || log.file == nil {
		return
	}
	log.writer.Flush()
	if err := log.file.Close(); err != nil {
		p.logger.Warn("closing print log", "error", err)
	}
}

// startTelemetry spawns the sampling loop if none is running. The loop
// carries its own cancellation, independent of any session.
func (p *Printer) startTelemetry() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.telemetry != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &telemetryLoop{cancel: cancel, done: make(chan struct{})}
	p.telemetry = loop
	go p.runTelemetry(ctx, loop)
}

// resumeTelemetry restarts the loop after a pause. The print log, its
// heated latch, and its failure guard carry over.
func (p *Printer) resumeTelemetry() { p.startTelemetry() }

// stopTelemetry cancels the running loop and waits for it to exit.
// Must not be called from the loop itself.
func (p *Printer) stopTelemetry() {
	p.mu.Lock()
	loop := p.telemetry
	p.telemetry = nil
	p.mu.Unlock()

	if loop == nil {
		return
	}
	loop.cancel()
	<-loop.done
}

// detachTelemetry clears the loop registration when the loop exits on
// its own.
func (p *Printer) detachTelemetry(loop *telemetryLoop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.telemetry == loop {
		p.telemetry = nil
	}
}

// runTelemetry is the sampling loop: one CSV row per tick, heated
// latch, and autonomous anomaly detection. Exits on cancellation, when
// the printer leaves the printing state, or after raising a failure.
func (p *Printer) runTelemetry(ctx context.Context, loop *telemetryLoop) {
	defer close(loop.done)
	defer p.detachTelemetry(loop)

	ticker := p.clk.NewTicker(p.opts.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if p.State() != StatePrinting {
			return
		}

		anomaly, reason := p.sampleTelemetry()
		if !anomaly {
			continue
		}

		// Autonomous pause-and-report: this is a domain condition,
		// not a software fault. The pause gets its own deadline
		// because the loop context may outlive any session.
		pauseCtx, cancel := context.WithTimeout(context.Background(), p.opts.RPCTimeout)
		if err := p.rpcCommand(pauseCtx, "printer.print.pause"); err != nil {
			p.logger.Error("anomaly pause failed", "error", err)
		}
		cancel()
		p.setState(StatePaused)
		p.raiseFailure(reason)
		return
	}
}

// sampleTelemetry appends one row to the log and evaluates the heated
// latch and tolerance check. Returns the anomaly reason when the
// reading deviates beyond tolerance after the latch, at most once per
// print.
func (p *Printer) sampleTelemetry() (bool, string) {
	p.mu.Lock()
	log := p.printLog
	if log == nil {
		p.mu.Unlock()
		return false, ""
	}

	extruder, bed, fan := p.extruderTemp, p.bedTemp, p.fanSpeed
	extruderTarget, bedTarget := p.twin.ExtruderTarget, p.twin.BedTarget
	now := p.clk.Now()
	tolerance := p.opts.TempTolerance

	log.window = append(log.window, []float64{extruder, bed, fan})
	if len(log.window) > log.maxRows {
		log.window = log.window[len(log.window)-log.maxRows:]
	}

	if log.file != nil {
		log.writer.Write([]string{
			now.UTC().Format(time.RFC3339),
			strconv.FormatFloat(extruder, 'f', 2, 64),
			strconv.FormatFloat(bed, 'f', 2, 64),
			strconv.FormatFloat(fan, 'f', 2, 64),
		})
		log.writer.Flush()
	}

	justHeated := false
	if !log.heated && extruderTarget > 0 && bedTarget > 0 &&
		math.Abs(extruder-extruderTarget) <= tolerance &&
		math.Abs(bed-bedTarget) <= tolerance {
		log.heated = true
		justHeated = true
	}

	var reason string
	if log.heated && !log.failureRaised {
		switch {
		case extruderTarget > 0 && math.Abs(extruder-extruderTarget) > tolerance:
			reason = fmt.Sprintf("extruder temperature %.1fC deviates from target %.1fC", extruder, extruderTarget)
		case bedTarget > 0 && math.Abs(bed-bedTarget) > tolerance:
			reason = fmt.Sprintf("bed temperature %.1fC deviates from target %.1fC", bed, bedTarget)
		}
	}
	p.mu.Unlock()

	if justHeated {
		p.logger.Info("print reached target temperatures",
			"extruder_target", extruderTarget,
			"bed_target", bedTarget,
		)
	}
	return reason != "", reason
}

// downsample splits rows into up to chunks equal-size chunks and
// averages each column within a chunk. Chunk size is ceil(n/chunks);
// the final chunk may be shorter and is averaged over its actual
// length.
func downsample(rows [][]float64, chunks int) [][]float64 {
	if len(rows) == 0 || chunks <= 0 {
		return nil
	}

	size := (len(rows) + chunks - 1) / chunks
	reduced := make([][]float64, 0, chunks)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		averages := make([]float64, len(chunk[0]))
		for _, row := range chunk {
			for i, v := range row {
				averages[i] += v
			}
		}
		for i := range averages {
			averages[i] /= float64(len(chunk))
		}
		reduced = append(reduced, averages)
	}
	return reduced
}
