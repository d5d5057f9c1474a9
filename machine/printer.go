// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package machine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Shane14705/MachineRancher/lib/clock"
)

// Printer operational states. Closed set; transitions happen only in
// capability operations and the telemetry anomaly path.
const (
	StateAvailable = "available"
	StatePrinting  = "printing"
	StatePaused    = "paused"
	StateError     = "error"
)

// DiscoveryPrefix is the bus topic root under which printers announce
// themselves. A printer named Voron1 publishes under Printers/Voron1/.
const DiscoveryPrefix = "Printers"

// Moonraker datastore location for the digital twin.
const (
	twinNamespace = "machine_rancher"
	twinKey       = "digital_twin"
)

// PrinterOptions configures printer capability behavior. Values come
// from the printer section of the configuration file.
type PrinterOptions struct {
	RPCTimeout      time.Duration
	LevelingTimeout time.Duration
	SampleInterval  time.Duration
	TempTolerance   float64
	Lookback        time.Duration
	VisChunks       int
	LogDir          string
}

// Printer is the Machine implementation for Klipper/Moonraker 3D
// printers. Monitored fields are written by the fleet engine; state
// transitions and device calls come from sessions and the telemetry
// loop.
type Printer struct {
	Unsupported

	name   string
	opts   PrinterOptions
	clk    clock.Clock
	logger *slog.Logger

	mu           sync.Mutex
	bedTemp      float64
	extruderTemp float64
	fanSpeed     float64
	rpcAddr      string
	state        string
	twin         Twin
	printLog     *printLog
	telemetry    *telemetryLoop

	failures failureFeed
}

// Compile-time interface check.
var _ Machine = (*Printer)(nil)

// NewPrinter creates a printer machine with the given discovered name.
func NewPrinter(name string, opts PrinterOptions, clk clock.Clock, logger *slog.Logger) *Printer {
	return &Printer{
		name:   name,
		opts:   opts,
		clk:    clk,
		logger: logger.With("machine", name),
		state:  StateAvailable,
	}
}

func (p *Printer) Name() string { return p.name }

func (p *Printer) Description() string {
	return "Klipper 3D printer managed via Moonraker"
}

func (p *Printer) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Fields declares the printer's monitored property bindings. The "*"
// in each topic pattern is replaced with the printer's name by the
// fleet engine at discovery time.
func (p *Printer) Fields() []Field {
	return []Field{
		{
			Name:         "bed_temperature",
			TopicPattern: "Printers/*/klipper/state/heater_bed/temperature",
			Key:          "value",
			Kind:         Float,
			Window:       5,
			Store:        func(v Value) { p.setFloat(&p.bedTemp, v.Float) },
			Load:         func() Value { return Value{Kind: Float, Float: p.getFloat(&p.bedTemp)} },
		},
		{
			Name:         "extruder_temperature",
			TopicPattern: "Printers/*/klipper/state/extruder/temperature",
			Key:          "value",
			Kind:         Float,
			Window:       5,
			Store:        func(v Value) { p.setFloat(&p.extruderTemp, v.Float) },
			Load:         func() Value { return Value{Kind: Float, Float: p.getFloat(&p.extruderTemp)} },
		},
		{
			Name:         "fan_speed",
			TopicPattern: "Printers/*/klipper/state/fan/speed",
			Key:          "value",
			Kind:         Float,
			Window:       5,
			Store:        func(v Value) { p.setFloat(&p.fanSpeed, v.Float) },
			Load:         func() Value { return Value{Kind: Float, Float: p.getFloat(&p.fanSpeed)} },
		},
		{
			Name:         "rpc_address",
			TopicPattern: "Printers/*/moonraker/status/connections",
			Key:          "websocket",
			Kind:         String,
			Window:       1,
			Store: func(v Value) {
				p.mu.Lock()
				defer p.mu.Unlock()
				p.rpcAddr = v.Str
			},
			Load: func() Value {
				p.mu.Lock()
				defer p.mu.Unlock()
				return Value{Kind: String, Str: p.rpcAddr}
			},
		},
	}
}

func (p *Printer) setFloat(field *float64, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	*field = v
}

func (p *Printer) getFloat(field *float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *field
}

func (p *Printer) rpcAddress() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rpcAddr
}

// readings returns the current temperature/fan snapshot.
func (p *Printer) readings() (extruder, bed, fan float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extruderTemp, p.bedTemp, p.fanSpeed
}

// dial opens a per-operation device connection with the standard RPC
// timeout applied.
func (p *Printer) dial(ctx context.Context) (*deviceConn, context.CancelFunc, error) {
	opCtx, cancel := context.WithTimeout(ctx, p.opts.RPCTimeout)
	conn, err := dialDevice(opCtx, p.rpcAddress(), p.logger)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return conn, cancel, nil
}

// DigitalTwin refreshes the twin snapshot from the device datastore
// and returns it.
func (p *Printer) DigitalTwin(ctx context.Context) (Twin, error) {
	conn, cancel, err := p.dial(ctx)
	if err != nil {
		return Twin{}, err
	}
	defer cancel()
	defer conn.close()

	return p.fetchTwin(ctx, conn)
}

// fetchTwin refreshes the twin over an existing connection.
func (p *Printer) fetchTwin(ctx context.Context, conn *deviceConn) (Twin, error) {
	result, err := conn.call(ctx, "server.database.get_item", map[string]string{
		"namespace": twinNamespace,
		"key":       twinKey,
	})
	if err != nil {
		return Twin{}, fmt.Errorf("fetching digital twin: %w", err)
	}

	var item struct {
		Value Twin `json:"value"`
	}
	if err := json.Unmarshal(result, &item); err != nil {
		return Twin{}, fmt.Errorf("decoding digital twin: %w", err)
	}

	p.mu.Lock()
	p.twin = item.Value
	p.mu.Unlock()
	return item.Value, nil
}

// UploadState persists the in-memory twin back to the device
// datastore.
func (p *Printer) UploadState(ctx context.Context) error {
	p.mu.Lock()
	twin := p.twin
	p.mu.Unlock()

	conn, cancel, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer conn.close()

	_, err = conn.call(ctx, "server.database.post_item", map[string]any{
		"namespace": twinNamespace,
		"key":       twinKey,
		"value":     twin,
	})
	if err != nil {
		return fmt.Errorf("uploading state: %w", err)
	}
	return nil
}

// Printables lists the gcode files available on the device.
func (p *Printer) Printables(ctx context.Context) ([]string, error) {
	conn, cancel, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer conn.close()

	result, err := conn.call(ctx, "server.files.list", map[string]string{"root": "gcodes"})
	if err != nil {
		return nil, fmt.Errorf("listing printables: %w", err)
	}

	var files []struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(result, &files); err != nil {
		return nil, fmt.Errorf("decoding file list: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Path)
	}
	return names, nil
}

// fetchRequirements looks up the named file's print requirements from
// its metadata. Absent metadata fields stay nil and are skipped by the
// compatibility check.
func (p *Printer) fetchRequirements(ctx context.Context, conn *deviceConn, filename string) (PrintRequirements, error) {
	result, err := conn.call(ctx, "server.files.metadata", map[string]string{"filename": filename})
	if err != nil {
		return PrintRequirements{}, fmt.Errorf("fetching metadata for %s: %w", filename, err)
	}

	var req PrintRequirements
	if err := json.Unmarshal(result, &req); err != nil {
		return PrintRequirements{}, fmt.Errorf("decoding metadata for %s: %w", filename, err)
	}
	return req, nil
}

// StartPrint checks the file's requirements against a fresh digital
// twin and starts the print when compatible. A non-empty conflict list
// with a nil error means the print was refused; the session surfaces
// the conflicts to the user.
func (p *Printer) StartPrint(ctx context.Context, filename string) ([]string, error) {
	conn, cancel, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer conn.close()

	requirements, err := p.fetchRequirements(ctx, conn, filename)
	if err != nil {
		return nil, err
	}
	twin, err := p.fetchTwin(ctx, conn)
	if err != nil {
		return nil, err
	}

	if conflicts := compatibilityConflicts(requirements, twin); len(conflicts) > 0 {
		return conflicts, nil
	}

	if _, err := conn.call(ctx, "printer.print.start", map[string]string{"filename": filename}); err != nil {
		return nil, fmt.Errorf("starting print: %w", err)
	}

	p.beginPrint(filename)
	p.logger.Info("print started", "file", filename)
	return nil, nil
}

// TogglePrinting pauses a running print or resumes a paused one.
func (p *Printer) TogglePrinting(ctx context.Context) (string, error) {
	switch p.State() {
	case StatePrinting:
		if err := p.rpcCommand(ctx, "printer.print.pause"); err != nil {
			return "", err
		}
		p.stopTelemetry()
		p.setState(StatePaused)
		p.logger.Info("print paused")
		return StatePaused, nil

	case StatePaused:
		if err := p.rpcCommand(ctx, "printer.print.resume"); err != nil {
			return "", err
		}
		p.setState(StatePrinting)
		p.resumeTelemetry()
		p.logger.Info("print resumed")
		return StatePrinting, nil

	default:
		return "", ErrNoActivePrint
	}
}

// CancelPrint cancels the active print for the given reason.
func (p *Printer) CancelPrint(ctx context.Context, reason string) error {
	state := p.State()
	if state != StatePrinting && state != StatePaused {
		return ErrNoActivePrint
	}

	if err := p.rpcCommand(ctx, "printer.print.cancel"); err != nil {
		return err
	}
	p.stopTelemetry()
	p.closePrintLog()
	p.setState(StateAvailable)
	p.logger.Info("print cancelled", "reason", reason)
	return nil
}

// EmergencyStop halts the printer immediately.
func (p *Printer) EmergencyStop(ctx context.Context) error {
	if err := p.rpcCommand(ctx, "printer.emergency_stop"); err != nil {
		return err
	}
	p.stopTelemetry()
	p.closePrintLog()
	p.setState(StateError)
	p.logger.Warn("emergency stop issued")
	return nil
}

// ReportFailure handles an operator-initiated anomaly report: pause
// the print, stop telemetry logging, and raise a failure event
// carrying the recent telemetry window.
func (p *Printer) ReportFailure(ctx context.Context, reason string) error {
	if p.State() != StatePrinting {
		return ErrNoActivePrint
	}

	if err := p.rpcCommand(ctx, "printer.print.pause"); err != nil {
		return err
	}
	p.stopTelemetry()
	p.setState(StatePaused)
	p.raiseFailure(reason)
	return nil
}

// SubscribeFailures registers a session-scoped failure subscription.
func (p *Printer) SubscribeFailures() (<-chan FailureEvent, func()) {
	return p.failures.Subscribe()
}

// rpcCommand issues a single no-result device command on its own
// connection.
func (p *Printer) rpcCommand(ctx context.Context, method string) error {
	conn, cancel, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer conn.close()

	if _, err := conn.call(ctx, method, nil); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (p *Printer) setState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// raiseFailure publishes a failure event carrying the downsampled
// recent telemetry window. Safe to call with no active print log (the
// series is then empty).
func (p *Printer) raiseFailure(reason string) {
	p.mu.Lock()
	var series [][]float64
	if p.printLog != nil {
		p.printLog.failureRaised = true
		series = downsample(p.printLog.window, p.opts.VisChunks)
	}
	p.mu.Unlock()

	p.logger.Warn("print failure", "reason", reason)
	p.failures.publish(FailureEvent{
		Machine: p.name,
		Reason:  reason,
		Series:  series,
	})
}
