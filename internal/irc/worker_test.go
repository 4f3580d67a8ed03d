// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package irc

import (
	"bufio"
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/worker"
)

// newTestFrontend wires a Frontend against an in-memory writer so reply
// rendering can be asserted without a real socket.
func newTestFrontend(t *testing.T, triggers map[string]string) (*Frontend, *bytes.Buffer) {
	t.Helper()
	f := New(Config{Nickname: "bot", Ident: "bot", Realname: "Dreambot", Host: "host.example.com", Port: 6667, Channels: []string{"#room"}}, triggers, t.TempDir(), "https://example.com/img")
	f.SetAddress(worker.Address(worker.Frontend, "irc", "host.example.com"))
	var buf bytes.Buffer
	f.writer = bufio.NewWriter(&buf)
	f.state = Active
	f.fullIdent = "bot!bot@host.example.com"
	return f, &buf
}

func TestHandlePrivmsgDispatchesOnTrigger(t *testing.T) {
	f, _ := newTestFrontend(t, map[string]string{"!dream": "backend.image"})
	var sent *envelope.Envelope
	f.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		sent = e
		return nil
	})
	l, err := Parse(":alice!a@host PRIVMSG #room :!dream a cat")
	if err != nil {
		t.Fatal(err)
	}
	f.handlePrivmsg(context.Background(), l)
	if sent == nil {
		t.Fatal("expected dispatch")
	}
	want := &envelope.Envelope{
		To: "backend.image", ReplyTo: "frontend.irc.host_example_com",
		Trigger: "!dream", Prompt: "a cat", Frontend: "irc",
		Server: "host.example.com", Channel: "#room", User: "alice",
	}
	if !reflect.DeepEqual(sent, want) {
		t.Fatalf("got %+v\nwant %+v", sent, want)
	}
}

func TestHandlePrivmsgIgnoresNonTrigger(t *testing.T) {
	f, _ := newTestFrontend(t, map[string]string{"!dream": "backend.image"})
	var called bool
	f.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		called = true
		return nil
	})
	l, _ := Parse(":alice!a@host PRIVMSG #room :just chatting")
	f.handlePrivmsg(context.Background(), l)
	if called {
		t.Fatal("expected no dispatch for non-triggered message")
	}
}

func TestReceiveRendersText(t *testing.T) {
	f, buf := newTestFrontend(t, nil)
	e := &envelope.Envelope{Channel: "#room", User: "alice", Reply: envelope.Reply{Kind: envelope.ReplyText, Text: "ok"}}
	if !f.Receive(context.Background(), f.Address(), e) {
		t.Fatal("expected ack")
	}
	if !strings.Contains(buf.String(), "PRIVMSG #room :alice: ok") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestReceiveRendersError(t *testing.T) {
	f, buf := newTestFrontend(t, nil)
	e := &envelope.Envelope{Channel: "#room", User: "alice", Reply: envelope.Reply{Kind: envelope.ReplyError, Error: "boom"}}
	f.Receive(context.Background(), f.Address(), e)
	if !strings.Contains(buf.String(), "Dream sequence collapsed: boom") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestReceiveRendersNoneAsNoPrivmsg(t *testing.T) {
	f, buf := newTestFrontend(t, nil)
	e := &envelope.Envelope{Channel: "#room", User: "alice", Reply: envelope.Reply{Kind: envelope.ReplyPending, Text: "working"}}
	f.Receive(context.Background(), f.Address(), e)
	if strings.Contains(buf.String(), "PRIVMSG") {
		t.Fatalf("expected no PRIVMSG, got %q", buf.String())
	}
}

func TestReceiveUnknownReplyKind(t *testing.T) {
	f, buf := newTestFrontend(t, nil)
	e := &envelope.Envelope{Channel: "#room", User: "alice"}
	f.Receive(context.Background(), f.Address(), e)
	if !strings.Contains(buf.String(), "Dream sequence collapsed, unknown reason.") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestReceiveNotActiveReturnsFalse(t *testing.T) {
	f, _ := newTestFrontend(t, nil)
	f.state = Disconnected
	e := &envelope.Envelope{Channel: "#room", User: "alice", Reply: envelope.Reply{Kind: envelope.ReplyText, Text: "ok"}}
	if f.Receive(context.Background(), f.Address(), e) {
		t.Fatal("expected false (redeliver) while disconnected")
	}
}
