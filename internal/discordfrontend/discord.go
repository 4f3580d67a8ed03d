// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package discordfrontend implements the C6 chat-SDK frontend for Discord:
// same envelope contract as internal/irc, carried over discordgo events
// instead of raw IRC lines.
package discordfrontend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/worker"
)

// maxMessage is Discord's message length limit (see discordgo usage in the
// teacher's cmd/discord-bot/discord_bot.go).
const maxMessage = 2000

// Config is the Discord-specific connection configuration.
type Config struct {
	Token string
}

// Frontend is the C6 Discord frontend worker: one instance per bot token.
type Frontend struct {
	worker.Base

	cfg      Config
	triggers map[string]string // trigger phrase -> backend address

	mu sync.Mutex
	dg *discordgo.Session
}

// New creates a Discord frontend. triggers maps a trigger phrase (e.g.
// "!dream") to the backend address it routes to (e.g. "backend.image").
func New(cfg Config, triggers map[string]string) *Frontend {
	return &Frontend{cfg: cfg, triggers: triggers}
}

// Boot implements worker.Worker: it opens the gateway session and blocks
// until ctx is cancelled.
func (f *Frontend) Boot(ctx context.Context) error {
	discordgo.Logger = func(msgL, _ int, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch msgL {
		case discordgo.LogDebug:
			slog.Debug(msg)
		case discordgo.LogInformational:
			slog.Info(msg)
		case discordgo.LogWarning:
			slog.Warn(msg)
		case discordgo.LogError:
			slog.Error(msg)
		}
	}
	dg, err := discordgo.New("Bot " + f.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentDirectMessages
	_ = dg.AddHandler(f.onReady)
	_ = dg.AddHandler(f.onMessageCreate)
	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord: open: %w", err)
	}
	f.mu.Lock()
	f.dg = dg
	f.mu.Unlock()
	f.SetBooted(true)
	<-ctx.Done()
	return nil
}

// Shutdown implements worker.Worker.
func (f *Frontend) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dg == nil {
		return nil
	}
	return f.dg.Close()
}

func (f *Frontend) onReady(dg *discordgo.Session, r *discordgo.Ready) {
	slog.Info("discord", "event", "ready", "user", r.User.String())
}

// onMessageCreate dispatches inbound messages against every configured
// trigger, exactly mirroring internal/irc's handlePrivmsg contract (§4.5).
func (f *Frontend) onMessageCreate(dg *discordgo.Session, m *discordgo.MessageCreate) {
	botID := dg.State.User.ID
	if m.Author.ID == botID {
		return
	}
	isDM := m.GuildID == ""
	channelName := m.ChannelID
	if isDM {
		channelName = "DM"
	}
	text := strings.TrimSpace(m.Content)
	for trigger, backendAddr := range f.triggers {
		prefix := trigger + " "
		if !strings.HasPrefix(text, prefix) {
			continue
		}
		prompt := strings.TrimPrefix(text, prefix)
		e := &envelope.Envelope{
			To:            backendAddr,
			ReplyTo:       f.Address(),
			Trigger:       trigger,
			Prompt:        prompt,
			Frontend:      "discord",
			Server:        m.GuildID,
			Channel:       m.ChannelID,
			ChannelName:   channelName,
			OriginMessage: m.ID,
			User:          m.Author.Username,
		}
		if !isDM {
			e.Channel = m.ChannelID
		}
		if err := dg.ChannelTyping(m.ChannelID); err != nil {
			slog.Error("discord", "error", err, "msg", "failed posting typing indicator")
		}
		if err := f.Send(context.Background(), e); err != nil {
			slog.Error("discord", "error", err, "msg", "failed to dispatch triggered message")
		}
		return
	}
}

// Receive implements worker.Worker: it renders a reply envelope back into
// the Discord channel it originated from (§4.5's reply-rendering table,
// shared with IRC save that images attach directly instead of a link).
func (f *Frontend) Receive(ctx context.Context, subject string, e *envelope.Envelope) bool {
	f.mu.Lock()
	dg := f.dg
	f.mu.Unlock()
	if dg == nil {
		return false
	}
	switch e.Reply.Kind {
	case envelope.ReplyImage:
		f.sendImage(dg, e)
	case envelope.ReplyText:
		f.sendText(dg, e.Channel, e.User, e.Reply.Text)
	case envelope.ReplyPending:
		slog.Info("discord", "channel", e.Channel, "user", e.User, "msg", "reply-none, no message sent")
	case envelope.ReplyError:
		f.sendText(dg, e.Channel, e.User, "Dream sequence collapsed: "+e.Reply.Error)
	case envelope.ReplyUsage:
		f.sendText(dg, e.Channel, e.User, e.Reply.Usage)
	default:
		f.sendText(dg, e.Channel, e.User, "Dream sequence collapsed, unknown reason.")
	}
	return true
}

func (f *Frontend) sendImage(dg *discordgo.Session, e *envelope.Envelope) {
	msg := discordgo.MessageSend{
		Content: fmt.Sprintf("%s: I dreamed this.", e.User),
		Files:   []*discordgo.File{{Name: "dream.png", ContentType: "image/png", Reader: bytes.NewReader(e.Reply.Image)}},
	}
	if e.OriginMessage != "" {
		msg.Reference = &discordgo.MessageReference{MessageID: e.OriginMessage, ChannelID: e.Channel}
	}
	if _, err := dg.ChannelMessageSendComplex(e.Channel, &msg); err != nil {
		slog.Error("discord", "error", err, "msg", "failed to upload image")
	}
}

// sendText chunks body to Discord's message length limit, escaping nothing:
// unlike the teacher's meme bot, dreambot replies carry no untrusted
// markdown-sensitive labels to escape.
func (f *Frontend) sendText(dg *discordgo.Session, channel, user, text string) {
	body := fmt.Sprintf("%s: %s", user, text)
	for len(body) > 0 {
		chunk := body
		if len(chunk) > maxMessage {
			chunk = body[:maxMessage]
		}
		if _, err := dg.ChannelMessageSend(channel, chunk); err != nil {
			slog.Error("discord", "error", err, "msg", "failed to send reply")
			return
		}
		body = body[len(chunk):]
	}
}
