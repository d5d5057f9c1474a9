// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import "sync"

// Compile-time interface check.
var _ Bus = (*Memory)(nil)

// Memory is an in-process Bus for tests. Subscriptions and deliveries
// happen through an internal table, bypassing the broker entirely.
// Publish delivers synchronously to every matching handler, so a test
// can publish and immediately assert on the consumer's observable
// state (once the consumer's own loop has drained its channel).
type Memory struct {
	mu       sync.Mutex
	handlers map[string]Handler // key: topic filter
}

// NewMemory creates a new in-process bus.
func NewMemory() *Memory {
	return &Memory{handlers: make(map[string]Handler)}
}

func (m *Memory) Subscribe(filter string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[filter] = handler
	return nil
}

func (m *Memory) Unsubscribe(filter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, filter)
	return nil
}

func (m *Memory) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	var matched []Handler
	for filter, handler := range m.handlers {
		if matchFilter(filter, topic) {
			matched = append(matched, handler)
		}
	}
	m.mu.Unlock()

	// Deliver outside the lock: handlers may re-enter the bus.
	for _, handler := range matched {
		handler(Message{Topic: topic, Payload: payload})
	}
	return nil
}

func (m *Memory) Close() {}
