// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shane14705/MachineRancher/lib/clock"
	"github.com/Shane14705/MachineRancher/machine"
	"github.com/Shane14705/MachineRancher/observe"
)

// mailboxBuffer sizes the inbound frame queue. A client flooding past
// it loses frames rather than wedging the read pump.
const mailboxBuffer = 64

// reportedFailureReason is the anomaly reason recorded when the
// operator cancels a print without giving one.
const reportedFailureReason = "operator reported failure"

// BindResult is the router's answer to a bind request.
type BindResult struct {
	Name    string
	Machine machine.Machine
	Found   bool
}

// bindingState is one session-to-machine binding: the machine, the
// client's UI cursor on it, and the cancellation scope for every loop
// spawned on its behalf.
type bindingState struct {
	machine machine.Machine
	cursor  Cursor
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
}

// Holographic is the session actor behind the "HolographicInterface"
// endpoint: the AR client controlling printers. All state below mu is
// touched only from the Run loop except through Close.
type Holographic struct {
	id             uuid.UUID
	send           SendFunc
	clk            clock.Clock
	statusInterval time.Duration
	logger         *slog.Logger

	mailbox      chan []byte
	bindRequests chan string
	bindResults  chan BindResult

	mu    sync.Mutex
	bound map[string]*bindingState

	// loops tracks every goroutine spawned for this session so Close
	// can wait them out.
	loops sync.WaitGroup
}

// NewHolographic constructs the holographic session actor. Register it
// with RegisterSession under the endpoint name clients connect to.
func NewHolographic(opts Options) Actor {
	return &Holographic{
		id:             opts.ID,
		send:           opts.Send,
		clk:            opts.Clock,
		statusInterval: opts.StatusInterval,
		logger:         opts.Logger.With("session", opts.ID.String()),
		mailbox:        make(chan []byte, mailboxBuffer),
		bindRequests:   make(chan string, 8),
		bindResults:    make(chan BindResult, 8),
		bound:          make(map[string]*bindingState),
	}
}

// Deliver enqueues one inbound frame. Frames beyond the mailbox buffer
// are dropped with a warning; order among delivered frames is
// preserved.
func (s *Holographic) Deliver(frame []byte) {
	select {
	case s.mailbox <- frame:
	default:
		s.logger.Warn("session mailbox full, dropping frame")
	}
}

// BindRequests yields machine names awaiting fleet resolution.
func (s *Holographic) BindRequests() <-chan string { return s.bindRequests }

// CompleteBind feeds a resolution result back into the actor loop.
func (s *Holographic) CompleteBind(ctx context.Context, result BindResult) {
	select {
	case s.bindResults <- result:
	case <-ctx.Done():
	}
}

// Run is the single-consumer session loop. Every command and bind
// result is handled here, so binding state needs no further locking on
// this path.
func (s *Holographic) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.mailbox:
			s.handle(ctx, frame)
		case result := <-s.bindResults:
			s.finishBind(ctx, result)
		}
	}
}

// Close tears the session down: cancels every binding's loops,
// releases failure subscriptions, and waits for spawned goroutines.
// Call only after Run has returned.
func (s *Holographic) Close() {
	s.mu.Lock()
	for name, binding := range s.bound {
		binding.cancel()
		binding.release()
		delete(s.bound, name)
	}
	s.mu.Unlock()
	s.loops.Wait()
}

// handle dispatches one inbound frame. Unrecognized commands are
// ignored; commands addressing unbound machines are dropped.
func (s *Holographic) handle(ctx context.Context, frame []byte) {
	command, args := decode(frame)
	if command == "" {
		return
	}
	observe.Commands.WithLabelValues(command).Inc()

	if command == cmdDiscoveredMachine {
		s.requestBind(ctx, args)
		return
	}

	if len(args) < 1 {
		return
	}
	name := args[0]
	binding := s.lookupBinding(name)
	if binding == nil {
		s.logger.Warn("command for unbound machine, dropping",
			"command", command,
			"machine", name,
		)
		return
	}

	switch command {
	case cmdGetStats:
		s.push(statLine(name, binding.machine))

	case cmdLogin:
		s.push(loginLine(name, binding))

	case cmdAdvance:
		binding.cursor = binding.cursor.Advance()
		s.push(loginLine(name, binding))

	case cmdReverse:
		binding.cursor = binding.cursor.Reverse()
		s.push(loginLine(name, binding))

	case cmdStartLeveling:
		s.invoke(binding, command, name, s.doLeveling)

	case cmdTogglePrinting:
		s.invoke(binding, command, name, s.doToggle)

	case cmdCancelPrint:
		reason := ""
		if len(args) > 1 {
			reason = args[1]
		}
		if reason == "" {
			// Cancel with no reason is an operator-initiated anomaly
			// report: pause, stop logging, raise the failure event.
			s.invoke(binding, command, name, func(ctx context.Context, b *bindingState, name string) error {
				return b.machine.ReportFailure(ctx, reportedFailureReason)
			})
			return
		}
		s.invoke(binding, command, name, func(ctx context.Context, b *bindingState, name string) error {
			if err := b.machine.CancelPrint(ctx, reason); err != nil {
				return err
			}
			s.push(encode(kindNotification, "print_canceled", name, reason))
			return nil
		})

	case cmdEstop:
		s.invoke(binding, command, name, s.doEstop)

	case cmdRetrievePrintables:
		s.invoke(binding, command, name, s.doPrintables)

	case cmdRequestDigitalTwin:
		s.invoke(binding, command, name, s.doDigitalTwin)

	case cmdUploadState:
		s.invoke(binding, command, name, s.doUploadState)

	case cmdRequestPrint:
		if len(args) < 2 {
			return
		}
		filename := args[1]
		s.invoke(binding, command, name, func(ctx context.Context, b *bindingState, name string) error {
			return s.doStartPrint(ctx, b, name, filename)
		})

	default:
		// Unknown commands are silently ignored.
	}
}

// requestBind handles discovered_machine: reject duplicates locally,
// otherwise hand the name to the router for fleet resolution.
func (s *Holographic) requestBind(ctx context.Context, args []string) {
	if len(args) < 1 || args[0] == "" {
		return
	}
	name := args[0]
	if s.lookupBinding(name) != nil {
		s.push(encode(kindError, errAlreadyExists, name))
		return
	}
	select {
	case s.bindRequests <- name:
	case <-ctx.Done():
	}
}

// finishBind completes a discovered_machine exchange once the router
// has resolved the name.
func (s *Holographic) finishBind(ctx context.Context, result BindResult) {
	if !result.Found {
		s.push(encode(kindError, errUnrecognizedMachine, result.Name))
		return
	}
	if s.lookupBinding(result.Name) != nil {
		// A duplicate request raced the first resolution.
		s.push(encode(kindError, errAlreadyExists, result.Name))
		return
	}

	bindCtx, cancel := context.WithCancel(ctx)
	events, release := result.Machine.SubscribeFailures()
	binding := &bindingState{
		machine: result.Machine,
		cursor:  Status,
		ctx:     bindCtx,
		cancel:  cancel,
		release: release,
	}
	s.mu.Lock()
	s.bound[result.Name] = binding
	s.mu.Unlock()

	s.logger.Info("machine bound", "machine", result.Name)
	s.push(encode(kindMachineConfirmed, result.Name))

	s.loops.Add(2)
	go s.statusLoop(bindCtx, result.Name, result.Machine)
	go s.forwardFailures(bindCtx, result.Name, events)
}

// lookupBinding is safe from the Run loop and from Close.
func (s *Holographic) lookupBinding(name string) *bindingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound[name]
}

// push sends one outbound line, logging delivery failures. The send
// function is serialized by the router.
func (s *Holographic) push(line []byte) {
	if err := s.send(line); err != nil {
		s.logger.Warn("sending to client", "error", err)
	}
}

// statusLoop pushes periodic stat_update lines for one bound machine
// until the binding (or session) is torn down.
func (s *Holographic) statusLoop(ctx context.Context, name string, m machine.Machine) {
	defer s.loops.Done()
	ticker := s.clk.NewTicker(s.statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.push(statLine(name, m))
		}
	}
}

// forwardFailures relays machine failure events to the client as a
// notification plus the downsampled telemetry series.
func (s *Holographic) forwardFailures(ctx context.Context, name string, events <-chan machine.FailureEvent) {
	defer s.loops.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			observe.FailureEvents.Inc()
			s.push(encode(kindNotification, "print_failure", name, event.Reason))
			s.push(visLine(name, event.Series))
		}
	}
}

// capabilityFunc is one async capability invocation. Implementations
// push their own success message; returned errors are mapped to the
// protocol's error taxonomy by invoke.
type capabilityFunc func(ctx context.Context, binding *bindingState, name string) error

// invoke runs a capability asynchronously under the binding's
// cancellation scope. ErrUnsupported becomes an explicit
// not-implemented response; other errors are logged and surfaced as
// operation failures.
func (s *Holographic) invoke(binding *bindingState, command, name string, fn capabilityFunc) {
	ctx := binding.ctx
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		err := fn(ctx, binding, name)
		switch {
		case err == nil:
		case errors.Is(err, machine.ErrUnsupported):
			s.push(encode(kindError, errNotImplemented, name, command))
		case errors.Is(err, context.Canceled):
		default:
			s.logger.Error("capability invocation failed",
				"command", command,
				"machine", name,
				"error", err,
			)
			s.push(encode(kindError, errOperationFailed, name, command))
		}
	}()
}

// doLeveling invokes bed leveling and pushes level_info only on a
// complete four-corner result.
func (s *Holographic) doLeveling(ctx context.Context, binding *bindingState, name string) error {
	corners, err := binding.machine.Level(ctx)
	if err != nil {
		return err
	}
	if len(corners) != machine.CornerCount {
		s.logger.Error("leveling returned incomplete corner set, sending nothing",
			"machine", name,
			"corners", len(corners),
		)
		return nil
	}
	s.push(levelLine(name, corners))
	return nil
}

func (s *Holographic) doToggle(ctx context.Context, binding *bindingState, name string) error {
	state, err := binding.machine.TogglePrinting(ctx)
	if err != nil {
		return err
	}
	s.push(encode(kindNotification, "printing_toggled", name, state))
	return nil
}

func (s *Holographic) doEstop(ctx context.Context, binding *bindingState, name string) error {
	if err := binding.machine.EmergencyStop(ctx); err != nil {
		return err
	}
	s.push(encode(kindNotification, "emergency_stop", name))
	return nil
}

func (s *Holographic) doPrintables(ctx context.Context, binding *bindingState, name string) error {
	files, err := binding.machine.Printables(ctx)
	if err != nil {
		return err
	}
	s.push(encode(kindAvailablePrintables, name, joinComma(files)))
	return nil
}

func (s *Holographic) doDigitalTwin(ctx context.Context, binding *bindingState, name string) error {
	twin, err := binding.machine.DigitalTwin(ctx)
	if err != nil {
		return err
	}
	s.push(twinLine(name, twin))
	return nil
}

func (s *Holographic) doUploadState(ctx context.Context, binding *bindingState, name string) error {
	if err := binding.machine.UploadState(ctx); err != nil {
		return err
	}
	s.push(encode(kindNotification, "state_uploaded", name))
	return nil
}

// doStartPrint runs the compatibility-checked print start. Conflicts
// are a refusal, not an error.
func (s *Holographic) doStartPrint(ctx context.Context, binding *bindingState, name, filename string) error {
	conflicts, err := binding.machine.StartPrint(ctx, filename)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		s.push(encode(kindNotification, "print_refused", name, joinComma(conflicts)))
		return nil
	}
	s.push(encode(kindNotification, "print_started", name, filename))
	return nil
}

func joinComma(values []string) string {
	return strings.Join(values, ",")
}

// loginLine formats a login_state message: the numeric UI cursor
// followed by the machine's operational state.
func loginLine(name string, binding *bindingState) []byte {
	return encode(kindLoginState, name, strconv.Itoa(int(binding.cursor)), binding.machine.State())
}
