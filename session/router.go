// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Shane14705/MachineRancher/lib/clock"
	"github.com/Shane14705/MachineRancher/machine"
	"github.com/Shane14705/MachineRancher/observe"
)

// Resolver resolves machine names against the fleet. The fleet
// engine's Lookup satisfies it.
type Resolver interface {
	Lookup(name string) (machine.Machine, bool)
}

// RouterOptions configures the session router.
type RouterOptions struct {
	// Listen is the host:port the HTTP server binds.
	Listen string

	// MaxSessions caps concurrent sessions across all endpoint types.
	MaxSessions int

	// StatusInterval is passed through to session actors for their
	// status push loops.
	StatusInterval time.Duration
}

// Router is the session listen server. It exposes one WebSocket
// endpoint per registered session type plus the metrics endpoint, and
// owns the lifecycle of every accepted session.
type Router struct {
	registry *Registry
	resolver Resolver
	clk      clock.Clock
	logger   *slog.Logger
	opts     RouterOptions

	upgrader websocket.Upgrader

	mu     sync.Mutex
	active int
}

// NewRouter creates a session router over the given registry and fleet
// resolver.
func NewRouter(registry *Registry, resolver Resolver, clk clock.Clock, opts RouterOptions, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		resolver: resolver,
		clk:      clk,
		logger:   logger,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// AR clients connect from device-local origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the HTTP mux: one path per session type name, plus
// /metrics.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, name := range r.registry.Names() {
		factory, _ := r.registry.Factory(name)
		mux.HandleFunc("/"+name, func(w http.ResponseWriter, req *http.Request) {
			r.serveSession(w, req, factory)
		})
	}
	mux.Handle("/metrics", observe.Handler())
	return mux
}

// ListenAndServe runs the listen server until ctx is canceled, then
// shuts it down gracefully.
func (r *Router) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:    r.opts.Listen,
		Handler: r.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errs := make(chan error, 1)
	go func() { errs <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down session server: %w", err)
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("session server: %w", err)
	}
}

// serveSession handles one incoming connection for a session type:
// admission, upgrade, actor wiring, pumps, teardown.
func (r *Router) serveSession(w http.ResponseWriter, req *http.Request, factory Factory) {
	if !r.acquireSlot() {
		observe.SessionsRejected.Inc()
		r.logger.Warn("session limit reached, rejecting connection",
			"remote", req.RemoteAddr,
			"limit", r.opts.MaxSessions,
		)
		http.Error(w, "session limit reached", http.StatusServiceUnavailable)
		return
	}
	defer r.releaseSlot()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		r.logger.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	id := uuid.New()
	observe.ActiveSessions.Inc()
	defer observe.ActiveSessions.Dec()
	r.logger.Info("session connected", "session", id.String(), "remote", req.RemoteAddr)

	// Serialize concurrent writes from the actor's loops.
	var writeMu sync.Mutex
	send := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	actor := factory(Options{
		ID:             id,
		Send:           send,
		Clock:          r.clk,
		StatusInterval: r.opts.StatusInterval,
		Logger:         r.logger,
	})

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		actor.Run(ctx)
	}()
	go func() {
		defer pumps.Done()
		r.bindPump(ctx, actor)
	}()

	// Read pump: inbound frames to the actor mailbox, in order, until
	// the client disconnects.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		actor.Deliver(data)
	}

	cancel()
	pumps.Wait()
	actor.Close()
	r.logger.Info("session disconnected", "session", id.String())
}

// bindPump resolves the actor's bind requests against the fleet.
func (r *Router) bindPump(ctx context.Context, actor Actor) {
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-actor.BindRequests():
			m, found := r.resolver.Lookup(name)
			actor.CompleteBind(ctx, BindResult{Name: name, Machine: m, Found: found})
		}
	}
}

func (r *Router) acquireSlot() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active >= r.opts.MaxSessions {
		return false
	}
	r.active++
	return true
}

func (r *Router) releaseSlot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
}
