// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package machine

import (
	"strings"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestCompatibilityConflicts(t *testing.T) {
	baseTwin := Twin{
		Filament:       "PLA",
		NozzleDiameter: 0.4,
		FilamentWeight: 0.5,
	}
	baseReq := PrintRequirements{
		NozzleDiameter: floatPtr(0.4),
		Filament:       strPtr("PLA"),
		FilamentWeight: floatPtr(0.1),
	}

	t.Run("fully compatible", func(t *testing.T) {
		if conflicts := compatibilityConflicts(baseReq, baseTwin); len(conflicts) != 0 {
			t.Errorf("unexpected conflicts: %v", conflicts)
		}
	})

	t.Run("filament mismatch names both sides", func(t *testing.T) {
		twin := baseTwin
		twin.Filament = "PETG"
		conflicts := compatibilityConflicts(baseReq, twin)
		if len(conflicts) != 1 {
			t.Fatalf("got %d conflicts, want 1: %v", len(conflicts), conflicts)
		}
		if !strings.Contains(conflicts[0], "PETG") || !strings.Contains(conflicts[0], "PLA") {
			t.Errorf("conflict %q does not mention both filament names", conflicts[0])
		}
	})

	t.Run("insufficient filament weight", func(t *testing.T) {
		twin := baseTwin
		twin.FilamentWeight = 0.05
		conflicts := compatibilityConflicts(baseReq, twin)
		if len(conflicts) != 1 {
			t.Fatalf("got %d conflicts, want 1: %v", len(conflicts), conflicts)
		}
		if !strings.Contains(conflicts[0], "insufficient filament") {
			t.Errorf("conflict %q is not a weight conflict", conflicts[0])
		}
	})

	t.Run("nozzle diameter mismatch", func(t *testing.T) {
		req := baseReq
		req.NozzleDiameter = floatPtr(0.6)
		conflicts := compatibilityConflicts(req, baseTwin)
		if len(conflicts) != 1 {
			t.Fatalf("got %d conflicts, want 1: %v", len(conflicts), conflicts)
		}
	})

	t.Run("absent fields are skipped", func(t *testing.T) {
		req := PrintRequirements{Filament: strPtr("PLA")}
		twin := Twin{Filament: "PLA"}
		if conflicts := compatibilityConflicts(req, twin); len(conflicts) != 0 {
			t.Errorf("unexpected conflicts: %v", conflicts)
		}

		// Zero-valued twin fields count as absent too.
		req = baseReq
		twin = Twin{Filament: "PLA"}
		if conflicts := compatibilityConflicts(req, twin); len(conflicts) != 0 {
			t.Errorf("unexpected conflicts: %v", conflicts)
		}
	})

	t.Run("abrasive filament needs hardened nozzle", func(t *testing.T) {
		req := PrintRequirements{Filament: strPtr("PA-CF")}
		twin := Twin{Filament: "PA-CF", HardenedNozzle: false}
		conflicts := compatibilityConflicts(req, twin)
		if len(conflicts) != 1 {
			t.Fatalf("got %d conflicts, want 1: %v", len(conflicts), conflicts)
		}
		if !strings.Contains(conflicts[0], "hardened nozzle") {
			t.Errorf("conflict %q is not a nozzle-hardness conflict", conflicts[0])
		}

		twin.HardenedNozzle = true
		if conflicts := compatibilityConflicts(req, twin); len(conflicts) != 0 {
			t.Errorf("unexpected conflicts: %v", conflicts)
		}
	})

	t.Run("multiple conflicts accumulate", func(t *testing.T) {
		twin := Twin{
			Filament:       "PETG",
			NozzleDiameter: 0.6,
			FilamentWeight: 0.05,
		}
		conflicts := compatibilityConflicts(baseReq, twin)
		if len(conflicts) != 3 {
			t.Errorf("got %d conflicts, want 3: %v", len(conflicts), conflicts)
		}
	})
}
