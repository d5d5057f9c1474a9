// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package session

// Cursor is a client's per-machine position in the holographic UI
// flow. The cycle is closed: Advance from Menu wraps back to Status,
// and Reverse walks the three backward edges. Moves with no defined
// edge leave the cursor unchanged.
type Cursor int

const (
	// Status is the initial screen, showing live machine stats.
	Status Cursor = iota
	// Leveling is the bed-leveling screen.
	Leveling
	// Confirmation asks the client to confirm the pending action.
	Confirmation
	// Menu is the top-level action menu.
	Menu
)

// Advance moves forward through the cycle, wrapping Menu back to
// Status.
func (c Cursor) Advance() Cursor {
	switch c {
	case Status:
		return Leveling
	case Leveling:
		return Confirmation
	case Confirmation:
		return Menu
	case Menu:
		return Status
	default:
		return c
	}
}

// Reverse moves backward along the defined edges. Status has no
// backward edge and stays put.
func (c Cursor) Reverse() Cursor {
	switch c {
	case Menu:
		return Confirmation
	case Confirmation:
		return Leveling
	case Leveling:
		return Status
	default:
		return c
	}
}

func (c Cursor) String() string {
	switch c {
	case Status:
		return "status"
	case Leveling:
		return "leveling"
	case Confirmation:
		return "confirmation"
	case Menu:
		return "menu"
	default:
		return "unknown"
	}
}
