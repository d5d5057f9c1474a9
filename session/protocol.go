// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"strconv"
	"strings"

	"github.com/Shane14705/MachineRancher/machine"
)

// Outbound message kinds. Every outbound line leads with one of these.
const (
	kindMachineConfirmed    = "machine_confirmed"
	kindStatUpdate          = "stat_update"
	kindLoginState          = "login_state"
	kindError               = "error"
	kindNotification        = "notification"
	kindVisData             = "vis_data"
	kindDigitalTwin         = "digitaltwin"
	kindLevelInfo           = "level_info"
	kindAvailablePrintables = "available_printables"
)

// Error codes carried in the second field of error messages.
const (
	errAlreadyExists       = "already_exists"
	errUnrecognizedMachine = "unrecognized_machine"
	errNotImplemented      = "not_implemented"
	errOperationFailed     = "operation_failed"
)

// Inbound command names.
const (
	cmdDiscoveredMachine   = "discovered_machine"
	cmdGetStats            = "get_stats"
	cmdLogin               = "login"
	cmdAdvance             = "advance"
	cmdReverse             = "reverse"
	cmdStartLeveling       = "start_leveling"
	cmdTogglePrinting      = "toggle_printing"
	cmdCancelPrint         = "cancel_print"
	cmdEstop               = "estop"
	cmdRetrievePrintables  = "retrieve_printables"
	cmdRequestDigitalTwin  = "request_digitaltwin"
	cmdUploadState         = "upload_state"
	cmdRequestPrint        = "request_print"
)

// encode builds one outbound wire line: kind and fields joined with
// tildes.
func encode(kind string, fields ...string) []byte {
	return []byte(kind + "~" + strings.Join(fields, "~"))
}

// decode splits one inbound wire line into command and positional
// arguments.
func decode(frame []byte) (command string, args []string) {
	fields := strings.Split(strings.TrimRight(string(frame), "\r\n"), "~")
	return fields[0], fields[1:]
}

// formatFloat renders a float compactly for the wire.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// statLine formats a stat_update message from a machine's current
// monitored values: bed temperature, extruder temperature, fan speed,
// then operational state.
func statLine(name string, m machine.Machine) []byte {
	values := make(map[string]machine.Value)
	for _, field := range m.Fields() {
		values[field.Name] = field.Load()
	}
	return encode(kindStatUpdate, name,
		formatFloat(values["bed_temperature"].Float),
		formatFloat(values["extruder_temperature"].Float),
		formatFloat(values["fan_speed"].Float),
		m.State(),
	)
}

// twinLine formats a digitaltwin message: filament, extruder target,
// bed target, remaining weight, nozzle diameter, hardened-nozzle flag.
func twinLine(name string, twin machine.Twin) []byte {
	return encode(kindDigitalTwin, name,
		twin.Filament,
		formatFloat(twin.ExtruderTarget),
		formatFloat(twin.BedTarget),
		formatFloat(twin.FilamentWeight),
		formatFloat(twin.NozzleDiameter),
		strconv.FormatBool(twin.HardenedNozzle),
	)
}

// levelLine formats a level_info message in fixed corner order: front
// left, front right, rear left, rear right.
func levelLine(name string, corners map[string]float64) []byte {
	return encode(kindLevelInfo, name,
		formatFloat(corners[machine.CornerFrontLeft]),
		formatFloat(corners[machine.CornerFrontRight]),
		formatFloat(corners[machine.CornerRearLeft]),
		formatFloat(corners[machine.CornerRearRight]),
	)
}

// visLine formats a vis_data message: one tilde field per downsampled
// row, the row's columns comma-joined.
func visLine(name string, series [][]float64) []byte {
	fields := make([]string, 0, len(series)+1)
	fields = append(fields, name)
	for _, row := range series {
		columns := make([]string, len(row))
		for i, column := range row {
			columns[i] = formatFloat(column)
		}
		fields = append(fields, strings.Join(columns, ","))
	}
	return encode(kindVisData, fields...)
}
