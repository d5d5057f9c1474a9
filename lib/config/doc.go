// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for MachineRancher.
//
// Configuration is loaded from a single YAML file specified by:
//   - RANCHER_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
//
// Missing required keys (MQTT broker address, session listen address,
// telemetry log directory) are startup-fatal: the process must not
// proceed to steady state on a partial configuration.
package config
