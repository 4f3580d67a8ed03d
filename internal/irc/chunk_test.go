// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package irc

import (
	"strings"
	"testing"
)

func TestPayloadBudget(t *testing.T) {
	budget := PayloadBudget("nick!ident@host.example.com", "#room")
	want := 510 - len(":nick!ident@host.example.com PRIVMSG #room :")
	if budget != want {
		t.Fatalf("got %d, want %d", budget, want)
	}
}

func TestChunkBound(t *testing.T) {
	budget := 20
	text := strings.Repeat("abcdefghij ", 10)
	for _, c := range Chunk(text, budget) {
		if len(c) > budget {
			t.Fatalf("chunk %q exceeds budget %d", c, budget)
		}
	}
}

func TestChunkReassembly(t *testing.T) {
	budget := 10
	text := "this is a long line that needs splitting\nand a second line"
	chunks := Chunk(text, budget)
	// Re-derive original line boundaries: every chunk belongs to one of
	// the two source lines, in order, and their concatenation per line
	// equals that line.
	lines := strings.Split(text, "\n")
	idx := 0
	for _, line := range lines {
		var rebuilt strings.Builder
		for rebuilt.Len() < len(line) {
			rebuilt.WriteString(chunks[idx])
			idx++
		}
		if rebuilt.String() != line {
			t.Fatalf("rebuilt %q != original line %q", rebuilt.String(), line)
		}
	}
	if idx != len(chunks) {
		t.Fatalf("leftover chunks: consumed %d of %d", idx, len(chunks))
	}
}

func TestChunkEmptyLinePreserved(t *testing.T) {
	chunks := Chunk("a\n\nb", 10)
	if len(chunks) != 3 || chunks[1] != "" {
		t.Fatalf("got %v", chunks)
	}
}

func TestChunkUTF8SafeBoundary(t *testing.T) {
	// Each "é" is 2 bytes; a budget of 3 must never split one in half.
	text := "ééé"
	for _, c := range Chunk(text, 3) {
		if !isValidUTF8Prefix(c) {
			t.Fatalf("chunk %q split a rune", c)
		}
	}
}

func isValidUTF8Prefix(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}
