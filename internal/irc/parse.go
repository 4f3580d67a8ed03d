// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package irc is the C5 IRC frontend: RFC 2812 line parsing, the
// connect/handshake/renick/active state machine, outbound chunking and
// filename sanitisation, grounded on original_source's
// dreambot/frontend/irc.py.
package irc

import (
	"errors"
	"strings"
)

// Prefix is the optional `:nick!user@host` prefix of a line.
type Prefix struct {
	Nick string
	User string
	Host string
}

// Line is one parsed RFC 2812 message.
type Line struct {
	Prefix      *Prefix
	Command     string
	Params      []string
	hasTrailing bool
}

// ErrEmptyLine is returned by Parse for an empty input line.
var ErrEmptyLine = errors.New("irc: empty line")

// ErrNoCommand is returned when a line has a prefix (or nothing) but no
// command token follows, e.g. ":::::::::" which is all prefix, no space.
var ErrNoCommand = errors.New("irc: no command")

// Parse implements RFC 2812 §2.3.1: an optional ":prefix" (itself
// optionally carrying "!user" and "@host"), an uppercased command, and
// params where the final trailing param may be marked with a leading ':'
// to allow embedded spaces.
func Parse(raw string) (*Line, error) {
	if raw == "" {
		return nil, ErrEmptyLine
	}
	rest := raw
	var prefix *Prefix
	if strings.HasPrefix(rest, ":") {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return nil, ErrNoCommand
		}
		prefix = parsePrefix(rest[1:sp])
		rest = strings.TrimLeft(rest[sp+1:], " ")
	}
	if rest == "" {
		return nil, ErrNoCommand
	}
	l := &Line{Prefix: prefix}
	if idx := strings.Index(rest, " :"); idx >= 0 {
		head := rest[:idx]
		trailing := rest[idx+2:]
		fields := strings.Fields(head)
		if len(fields) == 0 {
			return nil, ErrNoCommand
		}
		l.Command = strings.ToUpper(fields[0])
		l.Params = append(append([]string{}, fields[1:]...), trailing)
		l.hasTrailing = true
	} else {
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return nil, ErrNoCommand
		}
		l.Command = strings.ToUpper(fields[0])
		l.Params = fields[1:]
	}
	return l, nil
}

// parsePrefix splits "nick!user@host" into its parts; user and/or host
// may be absent.
func parsePrefix(s string) *Prefix {
	p := &Prefix{}
	if at := strings.IndexByte(s, '@'); at >= 0 {
		p.Host = s[at+1:]
		s = s[:at]
	}
	if ex := strings.IndexByte(s, '!'); ex >= 0 {
		p.User = s[ex+1:]
		s = s[:ex]
	}
	p.Nick = s
	return p
}

// Render reconstructs the wire form of l. For any RFC-2812-valid line L,
// Render(Parse(L)) is byte-equal to L modulo case normalisation of the
// command (§8 property 4).
func (l *Line) Render() string {
	var b strings.Builder
	if l.Prefix != nil {
		b.WriteByte(':')
		b.WriteString(l.Prefix.Nick)
		if l.Prefix.User != "" {
			b.WriteByte('!')
			b.WriteString(l.Prefix.User)
		}
		if l.Prefix.Host != "" {
			b.WriteByte('@')
			b.WriteString(l.Prefix.Host)
		}
		b.WriteByte(' ')
	}
	b.WriteString(l.Command)
	for i, p := range l.Params {
		b.WriteByte(' ')
		last := i == len(l.Params)-1
		if last && (l.hasTrailing || strings.Contains(p, " ") || p == "" || strings.HasPrefix(p, ":")) {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}
