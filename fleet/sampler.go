// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

// Sampler buffers the last K raw samples of one monitored property and
// maintains their running average. K=1 means the latest value
// verbatim. Samplers are owned by the engine's steady-state loop and
// need no locking.
type Sampler struct {
	window  int
	samples []float64
	next    int
	count   int
	average float64
}

// NewSampler creates a sampler with the given window. Windows below 1
// are treated as 1.
func NewSampler(window int) *Sampler {
	if window < 1 {
		window = 1
	}
	return &Sampler{
		window:  window,
		samples: make([]float64, window),
	}
}

// Add inserts a sample, evicting the oldest when the buffer is full,
// and returns the freshly recomputed average over all buffered
// samples.
func (s *Sampler) Add(value float64) float64 {
	s.samples[s.next] = value
	s.next = (s.next + 1) % s.window
	if s.count < s.window {
		s.count++
	}

	sum := 0.0
	for i := 0; i < s.count; i++ {
		sum += s.samples[i]
	}
	s.average = sum / float64(s.count)
	return s.average
}

// Average returns the current average, zero before any sample.
func (s *Sampler) Average() float64 { return s.average }
