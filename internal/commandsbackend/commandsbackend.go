// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package commandsbackend implements the C9 self-contained backend: a
// handful of commands answered entirely in-process, with no external
// service call. Grounded on the original's commands.py.
package commandsbackend

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/promptargs"
	"github.com/cmsj/dreambot-go/internal/worker"
)

// Backend is the C9 commands backend worker.
type Backend struct {
	worker.Base
}

// New creates a commands backend.
func New() *Backend { return &Backend{} }

// Boot implements worker.Worker. The commands backend has no external
// connection to establish.
func (b *Backend) Boot(ctx context.Context) error {
	b.SetBooted(true)
	<-ctx.Done()
	return nil
}

// Shutdown implements worker.Worker.
func (b *Backend) Shutdown(ctx context.Context) error { return nil }

// Receive implements worker.Worker per §4.8: dispatch on trigger, compute
// a reply from prompt, and ack unless publishing the reply fails.
func (b *Backend) Receive(ctx context.Context, subject string, e *envelope.Envelope) bool {
	p := promptargs.New(e.Trigger)
	remainder, err := p.Parse(e.Prompt)
	reply := *e
	switch {
	case err != nil:
		if ue, ok := err.(*promptargs.UsageError); ok {
			reply.Reply = envelope.Reply{Kind: envelope.ReplyUsage, Usage: ue.Usage}
		} else {
			reply.Reply = envelope.Reply{Kind: envelope.ReplyError, Error: fmt.Sprintf("Something is wrong with your arguments, try %s --help (%s)", e.Trigger, err)}
		}
	case e.Trigger == "!chance":
		reply.Reply = envelope.Reply{Kind: envelope.ReplyText, Text: fmt.Sprintf("%d%% chance %s", 1+rand.Intn(100), remainder)}
	default:
		reply.Reply = envelope.Reply{Kind: envelope.ReplyText, Text: "Unknown command"}
	}
	return b.sendAck(ctx, &reply)
}

// sendAck clears To so worker.Base.Send's auto-swap routes the reply back
// to the envelope's ReplyTo, then publishes it.
func (b *Backend) sendAck(ctx context.Context, e *envelope.Envelope) bool {
	out := *e
	out.To = ""
	if err := b.Send(ctx, &out); err != nil {
		return false
	}
	return true
}
