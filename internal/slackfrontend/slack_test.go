// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package slackfrontend

import (
	"context"
	"testing"

	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/worker"
)

func TestStripMention(t *testing.T) {
	cases := map[string]string{
		"<@U123> !dream a cat": "!dream a cat",
		"!dream a cat":         "!dream a cat",
		"  <@U123>   hello  ":  "hello",
	}
	for in, want := range cases {
		if got := stripMention(in); got != want {
			t.Errorf("stripMention(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHandleTextDispatchesOnTrigger(t *testing.T) {
	f := New(Config{}, map[string]string{"!dream": "backend.image"})
	f.SetAddress(worker.Address(worker.Frontend, "slack", ""))
	var sent *envelope.Envelope
	f.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		sent = e
		return nil
	})
	f.handleText(context.Background(), "C123", "U1", "<@BOT> !dream a cat", "123.456", false)
	if sent == nil {
		t.Fatal("expected dispatch")
	}
	if sent.Prompt != "a cat" || sent.Trigger != "!dream" || sent.To != "backend.image" {
		t.Fatalf("got %+v", sent)
	}
	if sent.Channel != "C123" || sent.User != "U1" || sent.OriginMessage != "123.456" {
		t.Fatalf("got %+v", sent)
	}
	if sent.ChannelName == "DM" {
		t.Fatalf("non-DM message incorrectly marked as DM: %+v", sent)
	}
}

func TestHandleTextDetectsDM(t *testing.T) {
	f := New(Config{}, map[string]string{"!dream": "backend.image"})
	f.SetAddress(worker.Address(worker.Frontend, "slack", ""))
	var sent *envelope.Envelope
	f.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		sent = e
		return nil
	})
	f.handleText(context.Background(), "D123", "U1", "!dream a cat", "123.456", true)
	if sent == nil || sent.ChannelName != "DM" {
		t.Fatalf("expected DM sentinel, got %+v", sent)
	}
}

func TestHandleTextIgnoresNonTrigger(t *testing.T) {
	f := New(Config{}, map[string]string{"!dream": "backend.image"})
	f.SetAddress(worker.Address(worker.Frontend, "slack", ""))
	var called bool
	f.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		called = true
		return nil
	})
	f.handleText(context.Background(), "C123", "U1", "just chatting", "123.456", false)
	if called {
		t.Fatal("expected no dispatch for non-triggered message")
	}
}

func TestReceiveNotReadyReturnsFalse(t *testing.T) {
	f := New(Config{}, nil)
	f.SetAddress(worker.Address(worker.Frontend, "slack", ""))
	e := &envelope.Envelope{Channel: "C123", User: "U1", Reply: envelope.Reply{Kind: envelope.ReplyText, Text: "ok"}}
	if f.Receive(context.Background(), f.Address(), e) {
		t.Fatal("expected false (redeliver) while socket not yet connected")
	}
}
