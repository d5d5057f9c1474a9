// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package machine

import (
	"fmt"
	"math"
	"strings"
)

// PrintRequirements are the demands a sliced file places on the
// printer, extracted from its metadata. Nil pointers mean the slicer
// did not record that field; such fields are skipped by the
// compatibility check.
type PrintRequirements struct {
	// NozzleDiameter is the required nozzle diameter in millimeters.
	NozzleDiameter *float64 `json:"nozzle_diameter"`

	// Filament is the required filament type, e.g. "PLA".
	Filament *string `json:"filament_type"`

	// FilamentWeight is the filament the print consumes, in
	// kilograms.
	FilamentWeight *float64 `json:"filament_weight"`
}

// nozzleEpsilon absorbs float decoding noise when comparing nozzle
// diameters.
const nozzleEpsilon = 1e-6

// compatibilityConflicts compares a file's requirements against the
// digital twin pairwise, accumulating human-readable conflicts. Only
// fields present on both sides are compared: a nil requirement or a
// zero-valued twin field skips that check. An empty result means the
// print is compatible.
func compatibilityConflicts(req PrintRequirements, twin Twin) []string {
	var conflicts []string

	if req.NozzleDiameter != nil && twin.NozzleDiameter > 0 {
		if math.Abs(*req.NozzleDiameter-twin.NozzleDiameter) > nozzleEpsilon {
			conflicts = append(conflicts, fmt.Sprintf(
				"installed nozzle is %.2fmm but the file requires %.2fmm",
				twin.NozzleDiameter, *req.NozzleDiameter))
		}
	}

	if req.Filament != nil && twin.Filament != "" {
		if !strings.EqualFold(*req.Filament, twin.Filament) {
			conflicts = append(conflicts, fmt.Sprintf(
				"loaded filament is %s but the file requires %s",
				twin.Filament, *req.Filament))
		}
		// Abrasive filaments chew through brass nozzles.
		if isAbrasive(*req.Filament) && !twin.HardenedNozzle {
			conflicts = append(conflicts, fmt.Sprintf(
				"filament %s requires a hardened nozzle", *req.Filament))
		}
	}

	if req.FilamentWeight != nil && twin.FilamentWeight > 0 {
		if twin.FilamentWeight < *req.FilamentWeight {
			conflicts = append(conflicts, fmt.Sprintf(
				"insufficient filament: %.3fkg remaining, %.3fkg required",
				twin.FilamentWeight, *req.FilamentWeight))
		}
	}

	return conflicts
}

// isAbrasive reports whether a filament type is fiber-filled and
// requires a hardened nozzle.
func isAbrasive(filament string) bool {
	upper := strings.ToUpper(filament)
	return strings.Contains(upper, "-CF") || strings.Contains(upper, "-GF")
}
