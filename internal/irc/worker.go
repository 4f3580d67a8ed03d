// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package irc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/worker"
)

// Config is one configured IRC server connection (the irc array entry of
// the original's example JSON config, see original_source's
// frontend/irc.py trailer comment).
type Config struct {
	Nickname string
	Ident    string
	Realname string
	Host     string
	Port     int
	SSL      bool
	Channels []string
}

// Frontend is the C5 IRC frontend worker: one instance per configured IRC
// server.
type Frontend struct {
	worker.Base

	cfg       Config
	triggers  map[string]string // trigger phrase -> backend address
	outputDir string
	uriBase   string

	mu        sync.Mutex
	conn      ircConn
	writer    ircWriter
	state     State
	nick      string
	fullIdent string
}

// ircConn is the subset of net.Conn the frontend needs; it exists so
// Shutdown can close the live connection without conn.go and worker.go
// fighting over the concrete net.Conn type.
type ircConn interface {
	Close() error
}

// ircWriter is the subset of *bufio.Writer sendLine needs.
type ircWriter interface {
	WriteString(s string) (int, error)
	Flush() error
}

// New creates an IRC frontend for one server. triggers maps a trigger
// phrase (e.g. "!dream") to the backend address it should be routed to
// (e.g. "backend.image"). outputDir/uriBase are where reply-image
// payloads are written and the public URL prefix under which they're
// served (§6 Config JSON).
func New(cfg Config, triggers map[string]string, outputDir, uriBase string) *Frontend {
	return &Frontend{cfg: cfg, triggers: triggers, outputDir: outputDir, uriBase: uriBase}
}

// Boot implements worker.Worker: it drives the connect/handshake/active
// reconnect loop until ctx is cancelled.
func (f *Frontend) Boot(ctx context.Context) error {
	f.connectLoop(ctx)
	return nil
}

// Shutdown implements worker.Worker.
func (f *Frontend) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// handlePrivmsg checks an inbound channel message against every
// configured trigger and, on a match, dispatches a routed envelope (§4.4).
func (f *Frontend) handlePrivmsg(ctx context.Context, l *Line) {
	if len(l.Params) < 2 || l.Prefix == nil {
		return
	}
	channel := l.Params[0]
	text := l.Params[len(l.Params)-1]
	for trigger, backendAddr := range f.triggers {
		prefix := trigger + " "
		if !strings.HasPrefix(text, prefix) {
			continue
		}
		prompt := strings.TrimPrefix(text, prefix)
		e := &envelope.Envelope{
			To:       backendAddr,
			ReplyTo:  f.Address(),
			Trigger:  trigger,
			Prompt:   prompt,
			Frontend: "irc",
			Server:   f.cfg.Host,
			Channel:  channel,
			User:     l.Prefix.Nick,
		}
		if err := f.Send(ctx, e); err != nil {
			slog.Error("irc", "error", err, "msg", "failed to dispatch triggered message")
		}
		return
	}
}

// Receive implements worker.Worker: it renders a reply envelope back into
// the IRC channel it originated from (§4.4's reply-rendering table).
func (f *Frontend) Receive(ctx context.Context, subject string, e *envelope.Envelope) bool {
	if f.currentState() != Active {
		// Not connected yet; let the bus redelivered once we're back up.
		return false
	}
	switch e.Reply.Kind {
	case envelope.ReplyImage:
		f.renderImage(e)
	case envelope.ReplyText:
		f.renderLines(e.Channel, e.User, e.Reply.Text, false)
	case envelope.ReplyPending:
		slog.Info("irc", "channel", e.Channel, "user", e.User, "msg", "reply-none, no PRIVMSG")
	case envelope.ReplyError:
		f.renderLines(e.Channel, e.User, "Dream sequence collapsed: "+e.Reply.Error, false)
	case envelope.ReplyUsage:
		f.renderLines(e.Channel, e.User, e.Reply.Usage, true)
	default:
		f.renderLines(e.Channel, e.User, "Dream sequence collapsed, unknown reason.", false)
	}
	return true
}

func (f *Frontend) renderImage(e *envelope.Envelope) {
	// encoding/json base64-decodes []byte fields automatically, so
	// e.Reply.Image already holds raw bytes (see envelope.Unmarshal).
	stem := SanitiseFilename(e.Prompt, ".png")
	path := filepath.Join(f.outputDir, stem)
	if err := os.WriteFile(path, e.Reply.Image, 0o644); err != nil {
		slog.Error("irc", "error", err, "msg", "failed to write image")
		f.renderLines(e.Channel, e.User, "Dream sequence collapsed: failed to save image", false)
		return
	}
	url := strings.TrimRight(f.uriBase, "/") + "/" + stem
	f.renderLines(e.Channel, e.User, fmt.Sprintf("I dreamed this: %s", url), false)
}

// renderLines emits one PRIVMSG per chunk of "<user>: <text>", splitting
// on the per-line payload budget (§4.4). Usage text preserves its
// multi-line shape rather than being rejoined into a prefix form.
func (f *Frontend) renderLines(channel, user, text string, multilinePreserved bool) {
	budget := PayloadBudget(f.fullIdentOrDefault(), channel)
	body := fmt.Sprintf("%s: %s", user, text)
	for _, chunk := range Chunk(body, budget) {
		if err := f.sendLine(fmt.Sprintf("PRIVMSG %s :%s", channel, chunk)); err != nil {
			slog.Error("irc", "error", err, "msg", "failed to send reply")
			return
		}
	}
}
