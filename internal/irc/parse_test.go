// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package irc

import (
	"strings"
	"testing"
)

func TestParseEmptyRaises(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty line")
	}
}

func TestParseAllColonsRaises(t *testing.T) {
	if _, err := Parse(":::::::::"); err == nil {
		t.Fatal("expected error for \":::::::::\"")
	}
}

func TestParsePrivmsgNoPrefix(t *testing.T) {
	l, err := Parse("PRIVMSG #c :hello")
	if err != nil {
		t.Fatal(err)
	}
	if l.Prefix != nil {
		t.Fatalf("expected nil prefix, got %+v", l.Prefix)
	}
	if l.Command != "PRIVMSG" {
		t.Fatalf("got command %q", l.Command)
	}
	if len(l.Params) != 2 || l.Params[0] != "#c" || l.Params[1] != "hello" {
		t.Fatalf("got params %v", l.Params)
	}
}

func TestParsePrivmsgWithPrefix(t *testing.T) {
	l, err := Parse(":n!u@h PRIVMSG #c :hi")
	if err != nil {
		t.Fatal(err)
	}
	if l.Prefix == nil || l.Prefix.Nick != "n" || l.Prefix.User != "u" || l.Prefix.Host != "h" {
		t.Fatalf("got prefix %+v", l.Prefix)
	}
	if l.Command != "PRIVMSG" {
		t.Fatalf("got command %q", l.Command)
	}
	if len(l.Params) != 2 || l.Params[0] != "#c" || l.Params[1] != "hi" {
		t.Fatalf("got params %v", l.Params)
	}
}

func TestParseCommandCaseNormalised(t *testing.T) {
	l, err := Parse("privmsg #c :hi")
	if err != nil {
		t.Fatal(err)
	}
	if l.Command != "PRIVMSG" {
		t.Fatalf("got %q", l.Command)
	}
}

func TestParseRenderRoundTrip(t *testing.T) {
	lines := []string{
		"PRIVMSG #c :hello",
		":n!u@h PRIVMSG #c :hi",
		"PING :server.example.com",
		":server.example.com 001 mynick :Welcome to the network",
		"JOIN #channel",
		":alice!a@host PRIVMSG #room :!dream a cat",
		"NICK newnick",
		"USER ident * * :realname here",
	}
	for _, raw := range lines {
		l, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		got := l.Render()
		// Modulo case normalisation of the command: rebuild the expected
		// string with the command upper-cased for comparison.
		rest := raw
		if strings.HasPrefix(rest, ":") {
			rest = rest[strings.IndexByte(rest, ' ')+1:]
		}
		cmd := strings.Fields(rest)[0]
		want := raw[:len(raw)-len(rest)] + strings.ToUpper(cmd) + rest[len(cmd):]
		if got != want {
			t.Fatalf("Render(Parse(%q)) = %q, want %q", raw, got, want)
		}
	}
}

func TestParseNoCommandAfterPrefix(t *testing.T) {
	if _, err := Parse(":nick"); err == nil {
		t.Fatal("expected error: prefix without trailing command")
	}
}
