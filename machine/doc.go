// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

// Package machine defines the Machine capability interface and the
// printer implementation.
//
// A Machine is a typed, named entity representing one physical device.
// It declares monitored fields (kept in sync with bus topics by the
// fleet engine) and implements the capability surface sessions invoke:
// bed leveling, print start with compatibility checks, digital twin
// refresh, and so on. The capability set is closed: operations not
// meaningful for a machine variant return ErrUnsupported rather than
// being absent, so the session layer dispatches without type switches.
//
// Capability operations talk to the device's remote-control endpoint
// (Moonraker for printers) over short-lived JSON-RPC WebSocket
// connections, one connection per operation.
package machine
