// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package envelope

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	cases := []*Envelope{
		{To: "backend.image", ReplyTo: "frontend.irc.host", Trigger: "!dream", Prompt: "a cat",
			Server: "host", Channel: "#room", User: "alice", Frontend: "irc",
			Reply: Reply{Kind: ReplyNone}},
		{Channel: "#room", User: "alice", Reply: Reply{Kind: ReplyText, Text: "ok"}},
		{Channel: "#room", User: "alice", Reply: Reply{Kind: ReplyImage, Image: []byte{1, 2, 3}}},
		{Channel: "#room", User: "alice", Reply: Reply{Kind: ReplyPending, Text: "working on it"}},
		{Channel: "#room", User: "alice", Reply: Reply{Kind: ReplyError, Error: "boom"}},
		{Channel: "#room", User: "alice", Reply: Reply{Kind: ReplyUsage, Usage: "usage: ..."}},
	}
	for i, want := range cases {
		b, err := want.Marshal()
		if err != nil {
			t.Fatalf("case %d: marshal: %v", i, err)
		}
		got := &Envelope{}
		if err := got.Unmarshal(b); err != nil {
			t.Fatalf("case %d: unmarshal: %v", i, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("case %d: round-trip mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestUnknownKeysPreserved(t *testing.T) {
	in := []byte(`{"channel":"#room","user":"alice","reply-text":"ok","future_field":"keep me"}`)
	e := &Envelope{}
	if err := e.Unmarshal(in); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Extra["future_field"]; !ok {
		t.Fatal("expected future_field to be preserved in Extra")
	}
	out, err := e.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatal(err)
	}
	if string(m["future_field"]) != `"keep me"` {
		t.Fatalf("future_field not round-tripped, got %s", m["future_field"])
	}
}

func TestRedacted(t *testing.T) {
	e := &Envelope{Reply: Reply{Kind: ReplyImage, Image: []byte{0xde, 0xad, 0xbe, 0xef}}}
	r := e.Redacted()
	if string(r.Reply.Image) != "** IMAGE **" {
		t.Fatalf("expected redaction, got %q", r.Reply.Image)
	}
	// Original must be untouched.
	if len(e.Reply.Image) != 4 {
		t.Fatal("Redacted must not mutate the original")
	}
}

func TestSwapForReply(t *testing.T) {
	e := &Envelope{To: "backend.image", ReplyTo: "frontend.irc.host"}
	s := e.SwapForReply()
	if s.To != "frontend.irc.host" || s.ReplyTo != "backend.image" {
		t.Fatalf("swap failed: %+v", s)
	}
}
