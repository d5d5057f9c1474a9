// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"math"
	"testing"
)

func TestSamplerAveragesWindow(t *testing.T) {
	s := NewSampler(3)

	steps := []struct {
		sample float64
		want   float64
	}{
		{10, 10}, // [10]
		{20, 15}, // [10 20]
		{30, 20}, // [10 20 30]
		{40, 30}, // [40 20 30], 10 evicted
		{50, 40}, // [40 50 30]
		{60, 50}, // [40 50 60]
	}
	for i, step := range steps {
		got := s.Add(step.sample)
		if math.Abs(got-step.want) > 1e-9 {
			t.Fatalf("step %d: Add(%v) = %v, want %v", i, step.sample, got, step.want)
		}
		if s.Average() != got {
			t.Fatalf("step %d: Average() = %v, want %v", i, s.Average(), got)
		}
	}
}

func TestSamplerWindowOnePassesThrough(t *testing.T) {
	s := NewSampler(1)
	for _, sample := range []float64{5, -3, 0, 100.25} {
		if got := s.Add(sample); got != sample {
			t.Fatalf("Add(%v) = %v, want latest value verbatim", sample, got)
		}
	}
}

func TestSamplerClampsWindowBelowOne(t *testing.T) {
	s := NewSampler(0)
	if got := s.Add(7); got != 7 {
		t.Fatalf("Add(7) = %v, want 7", got)
	}
	if got := s.Add(9); got != 9 {
		t.Fatalf("Add(9) = %v, want 9 (window clamped to 1)", got)
	}
}

func TestSamplerAverageBeforeSamples(t *testing.T) {
	if got := NewSampler(4).Average(); got != 0 {
		t.Fatalf("Average() before any sample = %v, want 0", got)
	}
}
