// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "testing"

func TestCursorAdvanceCycle(t *testing.T) {
	c := Status
	want := []Cursor{Leveling, Confirmation, Menu, Status}
	for i, expected := range want {
		c = c.Advance()
		if c != expected {
			t.Fatalf("advance step %d: got %v, want %v", i, c, expected)
		}
	}
}

func TestCursorReverseEdges(t *testing.T) {
	tests := []struct {
		from, want Cursor
	}{
		{Menu, Confirmation},
		{Confirmation, Leveling},
		{Leveling, Status},
		// Status has no backward edge.
		{Status, Status},
	}
	for _, tt := range tests {
		if got := tt.from.Reverse(); got != tt.want {
			t.Fatalf("Reverse from %v = %v, want %v", tt.from, got, tt.want)
		}
	}
}

func TestCursorAdvanceReverseInverse(t *testing.T) {
	// From every state with a defined backward edge, advance then
	// reverse (and reverse then advance) returns to the origin.
	for _, c := range []Cursor{Status, Leveling, Confirmation} {
		if got := c.Advance().Reverse(); got != c {
			t.Fatalf("Advance then Reverse from %v = %v, want %v", c, got, c)
		}
	}
	for _, c := range []Cursor{Leveling, Confirmation, Menu} {
		if got := c.Reverse().Advance(); got != c {
			t.Fatalf("Reverse then Advance from %v = %v, want %v", c, got, c)
		}
	}
}
