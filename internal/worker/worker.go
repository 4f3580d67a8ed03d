// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package worker defines the capability interface every frontend and
// backend satisfies, and the addressing scheme the bus manager (see
// internal/bus) uses to route envelopes to them.
package worker

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/cmsj/dreambot-go/internal/envelope"
)

// End is which side of the bus a worker sits on.
type End string

// The two worker ends, used verbatim as the first component of an address.
const (
	Frontend End = "frontend"
	Backend  End = "backend"
)

// Address computes a worker's unique, stable bus address from its end,
// name and optional subname. Any "." inside subname is replaced with "_"
// so the address has exactly the depth the subject scheme expects.
func Address(end End, name, subname string) string {
	if subname == "" {
		return string(end) + "." + name
	}
	return string(end) + "." + name + "." + strings.ReplaceAll(subname, ".", "_")
}

// Worker is the capability every frontend and backend implements. The bus
// manager (internal/bus) holds a collection of these as interface values;
// it never knows the concrete type.
type Worker interface {
	// Address returns the worker's bus address. Valid only after the bus
	// manager has assigned it (see SetAddress).
	Address() string

	// SetAddress is called by the bus manager before Boot, so the worker
	// can stamp outgoing envelopes with its own address as reply-to.
	SetAddress(addr string)

	// SetSender installs the callback the worker must call from Send. The
	// bus manager owns the bus connection exclusively; workers reach it
	// only through this injected function value, avoiding a back-pointer
	// from worker to manager.
	SetSender(send func(ctx context.Context, e *envelope.Envelope) error)

	// IsBooted reports whether the worker has completed every
	// precondition (connection up, SDK handshake done, model loaded,
	// ...). The bus manager holds inbound delivery until this is true.
	IsBooted() bool

	// Boot starts long-running resources. It may block for the entire
	// lifetime of the worker (e.g. an IRC read loop lives inside Boot) and
	// MUST return when ctx is cancelled or Shutdown is called.
	Boot(ctx context.Context) error

	// Shutdown releases resources. It is idempotent and causes any
	// running Boot to return.
	Shutdown(ctx context.Context) error

	// Receive processes one inbound envelope. The return value governs
	// acknowledgement: true means ack, false means "do not ack, the bus
	// should redeliver it later" (see internal/bus's pump loop).
	Receive(ctx context.Context, subject string, e *envelope.Envelope) bool
}

// Base is an embeddable partial implementation of Worker covering the
// address/sender bookkeeping every concrete worker needs verbatim. Workers
// embed Base and only need to implement Boot, Shutdown and Receive.
type Base struct {
	addr   string
	send   func(ctx context.Context, e *envelope.Envelope) error
	booted atomic.Bool
}

// Address implements Worker.
func (b *Base) Address() string { return b.addr }

// SetAddress implements Worker.
func (b *Base) SetAddress(addr string) { b.addr = addr }

// SetSender implements Worker.
func (b *Base) SetSender(send func(ctx context.Context, e *envelope.Envelope) error) {
	b.send = send
}

// IsBooted implements Worker. Concrete workers call SetBooted once every
// precondition is satisfied.
func (b *Base) IsBooted() bool { return b.booted.Load() }

// SetBooted flips the readiness flag the bus manager polls via IsBooted.
func (b *Base) SetBooted(v bool) { b.booted.Store(v) }

// Send publishes e via the bus-manager-supplied callback. If e is being
// sent back to its originator (ReplyTo set, To empty) it auto-swaps
// To/ReplyTo so the reply routes home without the worker naming the
// frontend explicitly.
func (b *Base) Send(ctx context.Context, e *envelope.Envelope) error {
	out := e
	if e.To == "" && e.ReplyTo != "" {
		swapped := e.SwapForReply()
		out = &swapped
	}
	return b.send(ctx, out)
}
