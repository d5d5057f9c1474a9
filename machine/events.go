// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package machine

import "sync"

// failureFeed fans failure events out to session-scoped subscribers.
// Subscriptions are explicit resources: acquired on bind, released
// deterministically at teardown via the function returned by Subscribe.
type failureFeed struct {
	mu   sync.Mutex
	subs map[int]chan FailureEvent
	next int
}

// subscriberBuffer is the per-subscriber channel capacity. A session
// that has fallen this far behind loses events rather than blocking
// the telemetry loop.
const subscriberBuffer = 4

// Subscribe registers a new subscriber. The release function is
// idempotent and closes the subscriber's channel.
func (f *failureFeed) Subscribe() (<-chan FailureEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs == nil {
		f.subs = make(map[int]chan FailureEvent)
	}
	id := f.next
	f.next++
	ch := make(chan FailureEvent, subscriberBuffer)
	f.subs[id] = ch

	release := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if existing, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(existing)
		}
	}
	return ch, release
}

// publish delivers an event to every current subscriber without
// blocking.
func (f *failureFeed) publish(event FailureEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
