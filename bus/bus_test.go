// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import "testing"

func TestMatchFilter(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"Printers/#", "Printers/Voron1/klipper/state/extruder/temperature", true},
		{"Printers/#", "Printers/Voron1", true},
		{"Printers/#", "Mills/Haas1", false},
		{"Printers/+/status", "Printers/Voron1/status", true},
		{"Printers/+/status", "Printers/Voron1/extra/status", false},
		{"Printers/Voron1/klipper/state/fan/speed", "Printers/Voron1/klipper/state/fan/speed", true},
		{"Printers/Voron1/klipper/state/fan/speed", "Printers/Voron2/klipper/state/fan/speed", false},
		{"#", "anything/at/all", true},
	}

	for _, tt := range tests {
		if got := matchFilter(tt.filter, tt.topic); got != tt.want {
			t.Errorf("matchFilter(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestMemoryDelivery(t *testing.T) {
	m := NewMemory()

	var got []Message
	if err := m.Subscribe("Printers/#", func(msg Message) {
		got = append(got, msg)
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m.Publish("Printers/Voron1/announce", []byte(`{}`))
	m.Publish("Mills/Haas1/announce", []byte(`{}`))

	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].Topic != "Printers/Voron1/announce" {
		t.Errorf("topic = %q", got[0].Topic)
	}
}

func TestMemoryUnsubscribe(t *testing.T) {
	m := NewMemory()

	delivered := 0
	m.Subscribe("Printers/#", func(Message) { delivered++ })
	m.Publish("Printers/Voron1/announce", nil)
	m.Unsubscribe("Printers/#")
	m.Publish("Printers/Voron1/announce", nil)

	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}
