// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleet implements the discovery and monitoring engine.
//
// The engine runs two phases. Discovery subscribes to every registered
// discovery prefix and, for a fixed window, collects the first-level
// subtopic names published under each prefix; every unique (prefix,
// name) pair with a registered machine implementation becomes one
// Machine instance. Binding derivation then substitutes each machine's
// name into its fields' wildcard topic patterns and registers a
// property sampler per concrete topic.
//
// In steady state the engine subscribes to every bound topic and
// routes inbound messages through the matching sampler onto the
// machine field. Malformed payloads and unexpected topics are logged
// and dropped, never fatal. The engine's machine table is read-mostly
// after discovery and safe for concurrent session lookups.
package fleet
