// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"sort"

	"github.com/Shane14705/MachineRancher/machine"
)

// MachineFactory constructs a machine implementation for a newly
// discovered name.
type MachineFactory func(name string) machine.Machine

// Registry is the static mapping from discovery-topic prefixes to
// machine implementations. Built once at startup from declarative
// registrations; no runtime type inspection. Not safe for concurrent
// mutation — register everything before the engine starts.
type Registry struct {
	factories map[string]MachineFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]MachineFactory)}
}

// RegisterMachine maps a discovery prefix (the topic root machines of
// this type announce under, e.g. "Printers") to a factory. Registering
// the same prefix twice replaces the earlier factory.
func (r *Registry) RegisterMachine(prefix string, factory MachineFactory) {
	r.factories[prefix] = factory
}

// Prefixes returns the registered discovery prefixes in stable order.
func (r *Registry) Prefixes() []string {
	prefixes := make([]string, 0, len(r.factories))
	for prefix := range r.factories {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	return prefixes
}

// Factory returns the machine factory for a discovery prefix.
func (r *Registry) Factory(prefix string) (MachineFactory, bool) {
	factory, ok := r.factories[prefix]
	return factory, ok
}
