// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

// Package observe registers MachineRancher's Prometheus metrics and
// exposes the scrape handler mounted at /metrics on the session listen
// server.
package observe
