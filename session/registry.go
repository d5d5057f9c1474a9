// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Shane14705/MachineRancher/lib/clock"
)

// SendFunc delivers one outbound wire line to the client. The router
// serializes calls, so actors may send from any goroutine.
type SendFunc func(data []byte) error

// Options carries everything a session actor needs at construction.
type Options struct {
	// ID is the session's unique identity.
	ID uuid.UUID

	// Send delivers outbound messages to the client.
	Send SendFunc

	// Clock drives the actor's periodic loops.
	Clock clock.Clock

	// StatusInterval is the period of the per-machine status push
	// loop.
	StatusInterval time.Duration

	// Logger is the session-scoped logger.
	Logger *slog.Logger
}

// Actor is one connected client session. The router owns the actor's
// lifecycle: it runs the mailbox loop, pumps inbound frames and bind
// resolutions, and tears the actor down on disconnect.
type Actor interface {
	// Run consumes the mailbox until ctx is canceled.
	Run(ctx context.Context)

	// Deliver enqueues one inbound frame, preserving arrival order.
	Deliver(frame []byte)

	// BindRequests yields machine names the actor wants resolved
	// against the fleet.
	BindRequests() <-chan string

	// CompleteBind reports a resolution result back to the actor. The
	// context bounds the hand-off so teardown never strands the
	// caller.
	CompleteBind(ctx context.Context, result BindResult)

	// Close releases the actor's subscriptions and waits for its
	// spawned loops. Called after Run has returned.
	Close()
}

// Factory constructs a session actor for one accepted connection.
type Factory func(opts Options) Actor

// Registry maps session type names to actor factories. Each name
// becomes one endpoint path on the router. Register everything before
// the router starts; the registry is read-only afterwards.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// RegisterSession maps a session type name (e.g.
// "HolographicInterface") to a factory. Registering the same name
// twice replaces the earlier factory.
func (r *Registry) RegisterSession(name string, factory Factory) {
	r.factories[name] = factory
}

// Names returns the registered session type names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factory returns the factory for a session type name.
func (r *Registry) Factory(name string) (Factory, bool) {
	factory, ok := r.factories[name]
	return factory, ok
}
