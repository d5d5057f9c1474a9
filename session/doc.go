// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the client-facing side of the controller:
// a WebSocket router exposing one endpoint per registered session type,
// and the session actors behind those endpoints.
//
// Each accepted connection becomes one actor with a single-consumer
// mailbox; all command handling for a session happens on the actor's
// own loop, so per-session state (machine bindings, UI cursors) needs
// no locking against the command path. Capability invocations and
// status pushes run as spawned goroutines under per-(session, machine)
// contexts: tearing down one binding cancels its loops without
// touching the rest of the session.
//
// The wire protocol is one tilde-delimited text line per message. The
// first inbound field is the command name and the machine name follows
// where applicable; outbound messages lead with a kind tag. Multi-value
// payload fields are comma-joined inside one tilde field.
package session
