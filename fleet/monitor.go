// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Shane14705/MachineRancher/bus"
	"github.com/Shane14705/MachineRancher/lib/clock"
	"github.com/Shane14705/MachineRancher/machine"
	"github.com/Shane14705/MachineRancher/observe"
)

// defaultValueKey is the JSON key selecting the payload value when a
// field does not configure one.
const defaultValueKey = "value"

// messageBuffer sizes the channel between bus delivery goroutines and
// the steady-state loop. Messages beyond it are dropped with a warning
// rather than blocking the bus client.
const messageBuffer = 256

// binding ties one concrete topic to one machine field and its
// sampler. Bindings are derived once at discovery and read-only in
// steady state.
type binding struct {
	machine machine.Machine
	field   machine.Field
	sampler *Sampler
}

// Monitor is the fleet discovery and monitoring engine.
type Monitor struct {
	bus      bus.Bus
	registry *Registry
	clk      clock.Clock
	logger   *slog.Logger
	window   time.Duration

	mu       sync.RWMutex
	machines map[string]machine.Machine

	// bindings is written during Discover and read-only afterwards;
	// only the Run loop touches the samplers inside.
	bindings map[string]*binding

	messages chan bus.Message
}

// New creates a monitoring engine over the given bus and registry.
// window is the discovery listening window.
func New(b bus.Bus, registry *Registry, clk clock.Clock, window time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		bus:      b,
		registry: registry,
		clk:      clk,
		logger:   logger,
		window:   window,
		machines: make(map[string]machine.Machine),
		bindings: make(map[string]*binding),
		messages: make(chan bus.Message, messageBuffer),
	}
}

// Discover runs the discovery phase: listen on every registered prefix
// for the discovery window, instantiate machines for observed names,
// derive property bindings, and subscribe to the concrete topics.
// The window is a heuristic, not a completeness guarantee — machines
// announcing after it closes are not discovered until restart.
func (m *Monitor) Discover(ctx context.Context) error {
	var (
		discoveredMu sync.Mutex
		discovered   = make(map[string]map[string]struct{})
	)

	prefixes := m.registry.Prefixes()
	for _, prefix := range prefixes {
		discovered[prefix] = make(map[string]struct{})
		filter := prefix + "/#"
		err := m.bus.Subscribe(filter, func(msg bus.Message) {
			name, ok := machineName(prefix, msg.Topic)
			if !ok {
				return
			}
			discoveredMu.Lock()
			discovered[prefix][name] = struct{}{}
			discoveredMu.Unlock()
		})
		if err != nil {
			return fmt.Errorf("subscribing to discovery prefix %q: %w", prefix, err)
		}
	}

	select {
	case <-m.clk.After(m.window):
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, prefix := range prefixes {
		if err := m.bus.Unsubscribe(prefix + "/#"); err != nil {
			m.logger.Warn("unsubscribing discovery prefix", "prefix", prefix, "error", err)
		}
	}

	discoveredMu.Lock()
	defer discoveredMu.Unlock()
	for _, prefix := range prefixes {
		factory, ok := m.registry.Factory(prefix)
		if !ok {
			continue
		}
		for name := range discovered[prefix] {
			m.instantiate(prefix, name, factory)
		}
	}

	m.logger.Info("discovery complete",
		"machines", len(m.machines),
		"bindings", len(m.bindings),
	)

	for topic := range m.bindings {
		if err := m.bus.Subscribe(topic, m.enqueue); err != nil {
			return fmt.Errorf("subscribing to %q: %w", topic, err)
		}
	}
	return nil
}

// machineName extracts the first-level subtopic name under a discovery
// prefix. "Printers/Voron1/klipper/..." under prefix "Printers" yields
// "Voron1".
func machineName(prefix, topic string) (string, bool) {
	levels := strings.Split(topic, "/")
	if len(levels) < 2 || levels[0] != prefix || levels[1] == "" {
		return "", false
	}
	return levels[1], true
}

// instantiate creates one machine for a discovered name and derives
// its property bindings. Duplicate names are tolerated by keeping the
// first instance.
func (m *Monitor) instantiate(prefix, name string, factory MachineFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.machines[name]; exists {
		m.logger.Warn("duplicate machine name, keeping first instance",
			"name", name,
			"prefix", prefix,
		)
		return
	}

	mach := factory(name)
	m.machines[name] = mach
	m.logger.Info("machine discovered", "name", name, "prefix", prefix)

	for _, field := range mach.Fields() {
		topic := strings.ReplaceAll(field.TopicPattern, "*", name)
		if _, taken := m.bindings[topic]; taken {
			m.logger.Error("duplicate property binding, dropping later one",
				"topic", topic,
				"machine", name,
				"field", field.Name,
			)
			continue
		}
		m.bindings[topic] = &binding{
			machine: mach,
			field:   field,
			sampler: NewSampler(field.Window),
		}
	}
}

// Lookup resolves a machine by exact name. Safe for concurrent use by
// sessions.
func (m *Monitor) Lookup(name string) (machine.Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mach, ok := m.machines[name]
	return mach, ok
}

// enqueue hands a bus message to the steady-state loop without
// blocking the bus client's delivery goroutine.
func (m *Monitor) enqueue(msg bus.Message) {
	select {
	case m.messages <- msg:
	default:
		m.logger.Warn("monitoring loop backlogged, dropping message", "topic", msg.Topic)
	}
}

// Run is the steady-state loop. It routes each inbound message through
// its binding's sampler onto the machine field. Only process shutdown
// stops it.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.messages:
			m.process(msg)
		}
	}
}

// process handles one inbound message. All failure modes degrade
// gracefully: unexpected topics and malformed payloads are logged and
// dropped, never fatal.
func (m *Monitor) process(msg bus.Message) {
	bound, ok := m.bindings[msg.Topic]
	if !ok {
		observe.UnexpectedTopics.Inc()
		m.logger.Warn("message on unexpected topic",
			"topic", msg.Topic,
			"payload", string(msg.Payload),
		)
		return
	}
	observe.BusMessages.Inc()

	raw := extractValue(msg.Payload, bound.field.Key)

	switch bound.field.Kind {
	case machine.Float:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			// Graceful fallback: malformed samples count as zero,
			// matching the engine's tolerance for flaky devices.
			parsed = 0
		}
		bound.field.Store(machine.Value{Kind: machine.Float, Float: bound.sampler.Add(parsed)})

	case machine.Int:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			parsed = 0
		}
		average := bound.sampler.Add(parsed)
		bound.field.Store(machine.Value{Kind: machine.Int, Int: int64(math.Round(average))})

	case machine.String:
		bound.field.Store(machine.Value{Kind: machine.String, Str: raw})

	default:
		m.logger.Error("field has unsupported kind, leaving unset",
			"machine", bound.machine.Name(),
			"field", bound.field.Name,
			"kind", bound.field.Kind,
		)
	}
}

// extractValue pulls the configured key out of a JSON object payload,
// falling back to the raw payload string when the payload is not an
// object or the key is absent.
func extractValue(payload []byte, key string) string {
	if key == "" {
		key = defaultValueKey
	}
	var object map[string]any
	if err := json.Unmarshal(payload, &object); err == nil {
		if value, ok := object[key]; ok {
			return fmt.Sprint(value)
		}
	}
	return string(payload)
}
