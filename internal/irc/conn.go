// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// State is the connection state machine's current node (§4.4).
type State int

// States of the connection state machine.
const (
	Disconnected State = iota
	Handshake
	Registered
	Active
)

// idleTimeout forces a reconnect if no line arrives for this long (§5).
const idleTimeout = 300 * time.Second

// reconnectBackoff is the fixed retry cadence on connection loss (§5).
const reconnectBackoff = 5 * time.Second

func (f *Frontend) connectLoop(ctx context.Context) {
	for ctx.Err() == nil {
		if err := f.connectOnce(ctx); err != nil {
			slog.Warn("irc", "server", f.cfg.Host, "error", err, "msg", "disconnected, reconnecting")
		}
		f.setState(Disconnected)
		f.SetBooted(false)
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (f *Frontend) connectOnce(ctx context.Context) error {
	addr := net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))
	var c net.Conn
	var err error
	dialer := net.Dialer{}
	if f.cfg.SSL {
		tc := &tls.Dialer{Config: &tls.Config{ServerName: f.cfg.Host}}
		c, err = tc.DialContext(ctx, "tcp", addr)
	} else {
		c, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	f.mu.Lock()
	f.conn = c
	f.writer = bufio.NewWriter(c)
	f.nick = f.cfg.Nickname
	f.mu.Unlock()

	f.setState(Handshake)
	if err := f.sendLine("NICK " + f.nick); err != nil {
		return err
	}
	if err := f.sendLine(fmt.Sprintf("USER %s * * :%s", f.cfg.Ident, f.cfg.Realname)); err != nil {
		return err
	}

	r := bufio.NewReader(c)
	for {
		_ = c.SetReadDeadline(time.Now().Add(idleTimeout))
		raw, err := r.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		line := decodeLine(raw)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		l, perr := Parse(line)
		if perr != nil {
			slog.Debug("irc", "raw", line, "error", perr)
			continue
		}
		if err := f.handleLine(ctx, l); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// decodeLine decodes raw as UTF-8, falling back to Latin-1 (each byte is
// its own code point) if it isn't valid UTF-8, so the read loop never
// fails on decode (§4.4).
func decodeLine(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

func (f *Frontend) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *Frontend) currentState() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Frontend) sendLine(line string) error {
	f.mu.Lock()
	w := f.writer
	f.mu.Unlock()
	if w == nil {
		return fmt.Errorf("irc: not connected")
	}
	WarnIfOversize(line)
	if _, err := w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// handleLine dispatches one parsed line according to the state machine
// (§4.4): handshake numerics, PING/PONG, JOIN echo capture, and triggered
// PRIVMSGs.
func (f *Frontend) handleLine(ctx context.Context, l *Line) error {
	switch l.Command {
	case "001":
		f.setState(Registered)
		for _, ch := range f.cfg.Channels {
			if err := f.sendLine("JOIN " + ch); err != nil {
				return err
			}
		}
		f.setState(Active)
		f.SetBooted(true)
	case "443":
		f.mu.Lock()
		f.nick = f.nick + "_"
		nick := f.nick
		f.mu.Unlock()
		return f.sendLine("NICK " + nick)
	case "PING":
		return f.sendLine("PONG :" + strings.Join(l.Params, " "))
	case "JOIN":
		if l.Prefix != nil && strings.EqualFold(l.Prefix.Nick, f.currentNick()) {
			f.mu.Lock()
			host := l.Prefix.Host
			if l.Prefix.User != "" {
				f.fullIdent = l.Prefix.Nick + "!" + l.Prefix.User + "@" + host
			}
			f.mu.Unlock()
		}
	case "PRIVMSG":
		f.handlePrivmsg(ctx, l)
	default:
		if len(l.Command) > 0 && l.Command[0] >= '4' && l.Command[0] <= '9' {
			slog.Debug("irc", "numeric", l.Command, "params", l.Params)
		}
	}
	return nil
}

func (f *Frontend) currentNick() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nick
}

func (f *Frontend) fullIdentOrDefault() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fullIdent != "" {
		return f.fullIdent
	}
	return f.nick + "!" + f.cfg.Ident + "@" + f.cfg.Host
}
