// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package slackfrontend implements the C6 chat-SDK frontend for Slack over
// Socket Mode: same envelope contract as internal/irc, carried over
// slackevents callbacks instead of raw IRC lines.
package slackfrontend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/worker"
)

// Config is the Slack-specific connection configuration.
type Config struct {
	BotToken string
	AppToken string
}

// Frontend is the C6 Slack frontend worker: one instance per Slack app.
type Frontend struct {
	worker.Base

	cfg      Config
	triggers map[string]string // trigger phrase -> backend address
	botID    string

	mu     sync.Mutex
	api    *slack.Client
	socket *socketmode.Client
}

// New creates a Slack frontend. triggers maps a trigger phrase (e.g.
// "!dream") to the backend address it routes to (e.g. "backend.image").
func New(cfg Config, triggers map[string]string) *Frontend {
	return &Frontend{cfg: cfg, triggers: triggers}
}

// Boot implements worker.Worker: it opens the Socket Mode connection and
// blocks until ctx is cancelled.
func (f *Frontend) Boot(ctx context.Context) error {
	api := slack.New(f.cfg.BotToken, slack.OptionAppLevelToken(f.cfg.AppToken))
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	socketClient := socketmode.New(api)
	f.mu.Lock()
	f.api = api
	f.socket = socketClient
	f.botID = auth.UserID
	f.mu.Unlock()

	go f.eventLoop(ctx)
	f.SetBooted(true)
	return socketClient.RunContext(ctx)
}

// Shutdown implements worker.Worker. The Socket Mode client's RunContext
// loop exits on its own when ctx is cancelled by the caller.
func (f *Frontend) Shutdown(ctx context.Context) error {
	return nil
}

func (f *Frontend) eventLoop(ctx context.Context) {
	f.mu.Lock()
	socket := f.socket
	f.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-socket.Events:
			if !ok {
				return
			}
			f.handleEvent(ctx, socket, evt)
		}
	}
}

func (f *Frontend) handleEvent(ctx context.Context, socket *socketmode.Client, evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if evt.Request != nil {
		socket.Ack(*evt.Request)
	}
	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		f.handleText(ctx, ev.Channel, ev.User, ev.Text, ev.TimeStamp, false)
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.User == f.botID {
			return
		}
		isDM := strings.HasPrefix(ev.Channel, "D")
		f.handleText(ctx, ev.Channel, ev.User, ev.Text, ev.TimeStamp, isDM)
	}
}

// handleText dispatches one inbound text event against every configured
// trigger, the same contract as internal/irc's handlePrivmsg (§4.5).
func (f *Frontend) handleText(ctx context.Context, channel, user, text, ts string, isDM bool) {
	text = stripMention(text)
	channelName := channel
	if isDM {
		channelName = "DM"
	}
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
			Frontend:      "slack",
			Channel:       channel,
			ChannelName:   channelName,
			User:          user,
			OriginMessage: ts,
		}
		if err := f.Send(ctx, e); err != nil {
			slog.Error("slack", "error", err, "msg", "failed to dispatch triggered message")
		}
		return
	}
}

// stripMention removes a leading "<@U12345>" bot mention, as Slack renders
// app-mentions inline in the event text.
func stripMention(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<@") {
		if idx := strings.Index(text, ">"); idx >= 0 {
			return strings.TrimSpace(text[idx+1:])
		}
	}
	return text
}

// Receive implements worker.Worker: it renders a reply envelope back into
// the Slack channel it originated from (§4.5's reply-rendering table,
// shared with IRC save that images attach directly instead of a link).
func (f *Frontend) Receive(ctx context.Context, subject string, e *envelope.Envelope) bool {
	f.mu.Lock()
	api := f.api
	f.mu.Unlock()
	if api == nil {
		return false
	}
	switch e.Reply.Kind {
	case envelope.ReplyImage:
		f.sendImage(api, e)
	case envelope.ReplyText:
		f.postThread(api, e.Channel, e.OriginMessage, fmt.Sprintf("<@%s>: %s", e.User, e.Reply.Text))
	case envelope.ReplyPending:
		slog.Info("slack", "channel", e.Channel, "user", e.User, "msg", "reply-none, no message sent")
	case envelope.ReplyError:
		f.postThread(api, e.Channel, e.OriginMessage, fmt.Sprintf("<@%s>: Dream sequence collapsed: %s", e.User, e.Reply.Error))
	case envelope.ReplyUsage:
		f.postThread(api, e.Channel, e.OriginMessage, fmt.Sprintf("<@%s>: %s", e.User, e.Reply.Usage))
	default:
		f.postThread(api, e.Channel, e.OriginMessage, fmt.Sprintf("<@%s>: Dream sequence collapsed, unknown reason.", e.User))
	}
	return true
}

func (f *Frontend) postThread(api *slack.Client, channel, ts, text string) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	if _, _, err := api.PostMessage(channel, opts...); err != nil {
		slog.Error("slack", "error", err, "msg", "failed to send reply")
	}
}

func (f *Frontend) sendImage(api *slack.Client, e *envelope.Envelope) {
	params := slack.UploadFileV2Parameters{
		Reader:   bytes.NewReader(e.Reply.Image),
		Filename: "dream.png",
		FileSize: len(e.Reply.Image),
		Title:    fmt.Sprintf("I dreamed this: %s", e.Prompt),
		Channel:  e.Channel,
	}
	if e.OriginMessage != "" {
		params.ThreadTimestamp = e.OriginMessage
	}
	if _, err := api.UploadFileV2(params); err != nil {
		slog.Error("slack", "error", err, "msg", "failed to upload image")
	}
}
