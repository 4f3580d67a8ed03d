// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package commandsbackend

import (
	"context"
	"strings"
	"testing"

	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/worker"
)

func newTestBackend() *Backend {
	b := New()
	b.SetAddress(worker.Address(worker.Backend, "commands", ""))
	return b
}

func TestReceiveChance(t *testing.T) {
	b := newTestBackend()
	var sent *envelope.Envelope
	b.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		sent = e
		return nil
	})
	e := &envelope.Envelope{To: "backend.commands", ReplyTo: "frontend.irc.host", Trigger: "!chance", Prompt: "rain tomorrow"}
	if !b.Receive(context.Background(), b.Address(), e) {
		t.Fatal("expected ack")
	}
	if sent == nil || sent.Reply.Kind != envelope.ReplyText {
		t.Fatalf("got %+v", sent)
	}
	if !strings.HasSuffix(sent.Reply.Text, "% chance rain tomorrow") {
		t.Fatalf("unexpected text %q", sent.Reply.Text)
	}
	if sent.To != "frontend.irc.host" {
		t.Fatalf("expected reply routed to originator, got To=%q", sent.To)
	}
}

func TestReceiveUnknownCommand(t *testing.T) {
	b := newTestBackend()
	var sent *envelope.Envelope
	b.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		sent = e
		return nil
	})
	e := &envelope.Envelope{To: "backend.commands", ReplyTo: "frontend.irc.host", Trigger: "!bogus", Prompt: ""}
	b.Receive(context.Background(), b.Address(), e)
	if sent == nil || sent.Reply.Kind != envelope.ReplyText || sent.Reply.Text != "Unknown command" {
		t.Fatalf("got %+v", sent)
	}
}

func TestReceiveHelp(t *testing.T) {
	b := newTestBackend()
	var sent *envelope.Envelope
	b.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		sent = e
		return nil
	})
	e := &envelope.Envelope{To: "backend.commands", ReplyTo: "frontend.irc.host", Trigger: "!chance", Prompt: "--help"}
	b.Receive(context.Background(), b.Address(), e)
	if sent == nil || sent.Reply.Kind != envelope.ReplyUsage {
		t.Fatalf("got %+v", sent)
	}
}
