// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for MachineRancher
// binaries.
package process
