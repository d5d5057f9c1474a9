// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import "strings"

// Message is one inbound bus message.
type Message struct {
	// Topic is the concrete topic the message was published on.
	Topic string

	// Payload is the raw message body, expected (but not guaranteed)
	// to be a JSON object.
	Payload []byte
}

// Handler receives messages matching a subscription. Handlers are
// invoked from the bus client's delivery goroutine and must not block;
// long work belongs on the consumer's own loop.
type Handler func(Message)

// Bus is the subscriber-side surface of the telemetry bus.
type Bus interface {
	// Subscribe registers a handler for a topic filter. The filter
	// may use MQTT wildcards ("+" single level, "#" multi level).
	Subscribe(filter string, handler Handler) error

	// Unsubscribe removes the subscription for a topic filter.
	Unsubscribe(filter string) error

	// Publish sends a payload to a concrete topic.
	Publish(topic string, payload []byte) error

	// Close tears down the bus connection.
	Close()
}

// matchFilter reports whether an MQTT topic filter matches a concrete
// topic. "+" matches exactly one level, "#" matches any remaining
// levels (including none).
func matchFilter(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range filterLevels {
		if level == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
