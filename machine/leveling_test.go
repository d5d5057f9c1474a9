// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package machine

import (
	"math"
	"testing"
)

func TestParseScrewLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		corner   string
		rotation float64
		ok       bool
	}{
		{
			name:     "clockwise degrees and minutes",
			line:     "// front left screw : x=30.0, y=30.0 : adjust CW 02:30",
			corner:   CornerFrontLeft,
			rotation: 2.5,
			ok:       true,
		},
		{
			name:     "counter clockwise flips sign",
			line:     "// front left screw : x=30.0, y=30.0 : adjust CCW 02:30",
			corner:   CornerFrontLeft,
			rotation: -2.5,
			ok:       true,
		},
		{
			name:     "minutes only",
			line:     "// rear right screw : x=190.0, y=190.0 : adjust CW 00:45",
			corner:   CornerRearRight,
			rotation: 0.75,
			ok:       true,
		},
		{
			name: "base screw has no adjustment",
			line: "// front right screw (base) : x=190.0, y=30.0",
			ok:   false,
		},
		{
			name: "unrelated output",
			line: "ok",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corner, rotation, ok := parseScrewLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if corner != tt.corner {
				t.Errorf("corner = %q, want %q", corner, tt.corner)
			}
			if math.Abs(rotation-tt.rotation) > 1e-9 {
				t.Errorf("rotation = %v, want %v", rotation, tt.rotation)
			}
		})
	}
}
