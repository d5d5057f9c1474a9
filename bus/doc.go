// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus abstracts the topic-based discovery/telemetry bus.
//
// The production implementation wraps an MQTT client; tests use the
// in-process Memory bus, which implements the same interface including
// MQTT topic-filter wildcard matching ("+" and "#").
//
// MachineRancher is strictly a subscriber on this bus: machines
// announce themselves and publish telemetry, the fleet engine listens.
// Publish exists for symmetry and for tests that simulate devices.
package bus
