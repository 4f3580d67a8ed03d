// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package irc

import (
	"log/slog"
	"strings"
)

// maxLineBytes is IRC's hard per-line limit including CRLF (§6).
const maxLineBytes = 512

// crlfOverhead accounts for the trailing CRLF the wire writer appends.
const crlfOverhead = 2

// PayloadBudget computes the per-line text budget for a PRIVMSG to target
// sent by a client whose full echoed ident is fullIdent
// ("nick!ident@host"): 510 minus the literal
// ":<fullIdent> PRIVMSG <target> :" framing (§4.4).
func PayloadBudget(fullIdent, target string) int {
	framing := len(":" + fullIdent + " PRIVMSG " + target + " :")
	budget := (maxLineBytes - crlfOverhead) - framing
	if budget < 1 {
		budget = 1
	}
	return budget
}

// Chunk splits text into lines no longer than budget bytes of payload,
// preserving the original line breaks: a multi-line reply is chunked line
// by line, never merging two source lines into one chunk. Chunking never
// splits a line in the middle of a UTF-8 rune.
//
// The concatenation of the returned chunks, rejoined with "\n" at the
// original line boundaries, equals text (§8 property 6).
func Chunk(text string, budget int) []string {
	if budget < 1 {
		budget = 1
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, chunkLine(line, budget)...)
	}
	return out
}

func chunkLine(line string, budget int) []string {
	if line == "" {
		return []string{""}
	}
	var chunks []string
	n := 0
	runes := []rune(line)
	chunkStart := 0
	for i, r := range runes {
		rl := len(string(r))
		if n+rl > budget {
			chunks = append(chunks, string(runes[chunkStart:i]))
			chunkStart = i
			n = 0
		}
		n += rl
	}
	chunks = append(chunks, string(runes[chunkStart:]))
	return chunks
}

// WarnIfOversize logs a warning if an outbound line, not counting its CRLF,
// exceeds 510 bytes (§4.4).
func WarnIfOversize(payload string) {
	if len(payload) > maxLineBytes-crlfOverhead {
		slog.Warn("irc", "len", len(payload), "msg", "outbound line exceeds 510 bytes of payload")
	}
}
