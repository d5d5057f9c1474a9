// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package machine

import (
	"context"
	"errors"
)

// Sentinel errors returned by capability operations.
var (
	// ErrUnsupported is returned by capability operations that are
	// not meaningful for a machine variant. The session layer turns
	// it into an explicit "not implemented for this machine type"
	// response.
	ErrUnsupported = errors.New("operation not supported by this machine type")

	// ErrNoActivePrint is returned by print-lifecycle operations when
	// no print is in progress.
	ErrNoActivePrint = errors.New("no active print")
)

// ValueKind is the semantic type of a monitored field.
type ValueKind int

const (
	// Float fields are parsed as floating point and averaged over the
	// field's sample window.
	Float ValueKind = iota
	// Int fields are parsed as integers; averages are rounded.
	Int
	// String fields store the latest value verbatim, no averaging.
	String
)

// String returns the kind name for logging.
func (k ValueKind) String() string {
	switch k {
	case Float:
		return "float"
	case Int:
		return "int"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Value is one typed field value. Exactly one member is meaningful,
// selected by Kind.
type Value struct {
	Kind  ValueKind
	Float float64
	Int   int64
	Str   string
}

// Field describes one monitored property binding between a bus topic
// and a machine attribute. The Store and Load closures are bound to the
// machine instance that returned the Field, so the fleet engine routes
// values without any runtime type inspection.
type Field struct {
	// Name identifies the field in logs and status messages.
	Name string

	// TopicPattern is the bus topic with "*" where the machine's name
	// goes.
	TopicPattern string

	// Key selects the value from a JSON object payload. When the
	// payload is not a JSON object or the key is absent, the raw
	// payload string is used instead.
	Key string

	// Kind is the field's semantic type.
	Kind ValueKind

	// Window is the number of samples buffered and averaged before
	// the field updates. 1 means the latest value verbatim.
	Window int

	// Store writes a (possibly averaged) value onto the machine.
	Store func(Value)

	// Load reads the field's current value.
	Load func() Value
}

// FailureEvent is an asynchronous, machine-originated signal raised on
// autonomous anomaly detection (or an operator-initiated failure
// report). Series carries the downsampled telemetry window leading up
// to the failure; each row is [extruder temperature, bed temperature,
// fan speed].
type FailureEvent struct {
	Machine string
	Reason  string
	Series  [][]float64
}

// Machine is the full capability interface every machine variant
// implements. Monitored-field synchronization is driven externally by
// the fleet engine via Fields; everything else is invoked by sessions.
type Machine interface {
	// Name is the machine's unique identity, assigned at discovery
	// and immutable thereafter.
	Name() string

	// Description is a human-readable summary of the machine type.
	Description() string

	// Fields enumerates the machine's monitored property bindings.
	Fields() []Field

	// State is the machine's current operational state.
	State() string

	// Level runs the bed leveling routine and returns per-corner
	// adjustment rotations (signed fractional turns).
	Level(ctx context.Context) (map[string]float64, error)

	// StartPrint checks the named file's requirements against the
	// digital twin and, when compatible, starts the print. A non-nil
	// conflict list (with nil error) means the print was refused.
	StartPrint(ctx context.Context, filename string) ([]string, error)

	// TogglePrinting pauses a running print or resumes a paused one,
	// returning the resulting operational state.
	TogglePrinting(ctx context.Context) (string, error)

	// CancelPrint cancels the active print for the given reason.
	CancelPrint(ctx context.Context, reason string) error

	// EmergencyStop halts the device immediately.
	EmergencyStop(ctx context.Context) error

	// Printables lists files available for printing.
	Printables(ctx context.Context) ([]string, error)

	// DigitalTwin refreshes and returns the device-side consumable/
	// hardware snapshot. The snapshot is stale until refreshed;
	// operations that depend on it refresh first.
	DigitalTwin(ctx context.Context) (Twin, error)

	// UploadState persists the in-memory digital twin back to the
	// device's datastore.
	UploadState(ctx context.Context) error

	// ReportFailure treats an operator-initiated cancel-without-reason
	// as an anomaly report: pause the print, stop telemetry logging,
	// and raise a failure event immediately.
	ReportFailure(ctx context.Context, reason string) error

	// SubscribeFailures registers a failure-event subscription. The
	// returned release function must be called at session teardown;
	// late delivery to a torn-down session is a bug.
	SubscribeFailures() (<-chan FailureEvent, func())
}

// Twin is the printer digital twin: an on-demand snapshot of
// consumable and hardware state used for compatibility checks.
type Twin struct {
	// Filament is the loaded filament type, e.g. "PLA".
	Filament string `json:"filament"`

	// ExtruderTarget and BedTarget are the temperature targets in
	// degrees Celsius for the loaded filament.
	ExtruderTarget float64 `json:"extruder_target"`
	BedTarget      float64 `json:"bed_target"`

	// FilamentWeight is the remaining filament weight in kilograms.
	FilamentWeight float64 `json:"filament_weight"`

	// NozzleDiameter is the installed nozzle diameter in millimeters.
	NozzleDiameter float64 `json:"nozzle_diameter"`

	// HardenedNozzle reports whether an abrasive-rated nozzle is
	// installed.
	HardenedNozzle bool `json:"hardened_nozzle"`
}

// Unsupported provides ErrUnsupported defaults for the whole capability
// surface. Machine variants embed it and override the operations they
// implement.
type Unsupported struct{}

func (Unsupported) State() string { return "unknown" }

func (Unsupported) Level(context.Context) (map[string]float64, error) {
	return nil, ErrUnsupported
}

func (Unsupported) StartPrint(context.Context, string) ([]string, error) {
	return nil, ErrUnsupported
}

func (Unsupported) TogglePrinting(context.Context) (string, error) {
	return "", ErrUnsupported
}

func (Unsupported) CancelPrint(context.Context, string) error { return ErrUnsupported }

func (Unsupported) EmergencyStop(context.Context) error { return ErrUnsupported }

func (Unsupported) Printables(context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func (Unsupported) DigitalTwin(context.Context) (Twin, error) {
	return Twin{}, ErrUnsupported
}

func (Unsupported) UploadState(context.Context) error { return ErrUnsupported }

func (Unsupported) ReportFailure(context.Context, string) error { return ErrUnsupported }

// SubscribeFailures returns a subscription that never delivers. The
// release function is still safe to call.
func (Unsupported) SubscribeFailures() (<-chan FailureEvent, func()) {
	ch := make(chan FailureEvent)
	return ch, func() {}
}
