// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package envelope defines the request/reply value that travels end to end
// across the bus: frontend -> backend -> frontend.
package envelope

import (
	"encoding/json"
)

// Envelope is a request or reply carried across the bus. The wire form is a
// flat JSON object (see Marshal/Unmarshal); internally it is a tagged
// struct so callers can't accidentally set two reply fields at once.
//
// A backend MUST NOT remove context fields; it MAY rewrite To/ReplyTo
// (Send, see the worker package, swaps them automatically). Unknown keys
// encountered on unmarshal are preserved in Extra and re-emitted on
// marshal, per the wire contract's pass-through requirement.
type Envelope struct {
	To       string `json:"to,omitempty"`
	ReplyTo  string `json:"reply-to,omitempty"`
	Trigger  string `json:"trigger,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Frontend string `json:"frontend,omitempty"`

	// Context, opaque to the bus.
	Server        string `json:"server,omitempty"`
	Channel       string `json:"channel,omitempty"`
	User          string `json:"user,omitempty"`
	ChannelName   string `json:"channel_name,omitempty"`
	ServerName    string `json:"server_name,omitempty"`
	UserName      string `json:"user_name,omitempty"`
	OriginMessage string `json:"origin_message,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`

	Reply Reply `json:"-"`

	// Extra carries any key this struct doesn't name explicitly, so a
	// future field added by one frontend/backend pair round-trips through
	// every other component unharmed.
	Extra map[string]json.RawMessage `json:"-"`
}

// ReplyKind tags which reply field (if any) is set.
type ReplyKind int

// The reply sum type: exactly one of these is active at a time.
const (
	ReplyNone ReplyKind = iota
	ReplyText
	ReplyImage
	ReplyPending
	ReplyError
	ReplyUsage
)

// Reply is the sum-typed reply payload. Kind selects which field is
// meaningful; the others are zero.
type Reply struct {
	Kind  ReplyKind
	Text  string // ReplyText, and ReplyPending's informational note
	Image []byte // ReplyImage, raw decoded bytes (base64 on the wire)
	Error string // ReplyError
	Usage string // ReplyUsage
}

// HasReply reports whether any reply field is set.
func (r Reply) HasReply() bool {
	return r.Kind != ReplyNone
}

// wireFields mirrors the flat JSON layout from the envelope's wire
// contract; it exists only as a marshal/unmarshal shim.
type wireFields struct {
	To            string `json:"to,omitempty"`
	ReplyTo       string `json:"reply-to,omitempty"`
	Trigger       string `json:"trigger,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	Frontend      string `json:"frontend,omitempty"`
	Server        string `json:"server,omitempty"`
	Channel       string `json:"channel,omitempty"`
	User          string `json:"user,omitempty"`
	ChannelName   string `json:"channel_name,omitempty"`
	ServerName    string `json:"server_name,omitempty"`
	UserName      string `json:"user_name,omitempty"`
	OriginMessage string `json:"origin_message,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`

	ReplyText  *string `json:"reply-text,omitempty"`
	ReplyImage *[]byte `json:"reply-image,omitempty"`
	ReplyNone  *string `json:"reply-none,omitempty"`
	Error      *string `json:"error,omitempty"`
	Usage      *string `json:"usage,omitempty"`
}

// Marshal serialises the envelope to its flat wire JSON form.
func (e *Envelope) Marshal() ([]byte, error) {
	w := wireFields{
		To:            e.To,
		ReplyTo:       e.ReplyTo,
		Trigger:       e.Trigger,
		Prompt:        e.Prompt,
		Frontend:      e.Frontend,
		Server:        e.Server,
		Channel:       e.Channel,
		User:          e.User,
		ChannelName:   e.ChannelName,
		ServerName:    e.ServerName,
		UserName:      e.UserName,
		OriginMessage: e.OriginMessage,
		ImageURL:      e.ImageURL,
	}
	switch e.Reply.Kind {
	case ReplyText:
		w.ReplyText = &e.Reply.Text
	case ReplyImage:
		w.ReplyImage = &e.Reply.Image
	case ReplyPending:
		s := e.Reply.Text
		w.ReplyNone = &s
	case ReplyError:
		w.Error = &e.Reply.Error
	case ReplyUsage:
		w.Usage = &e.Reply.Usage
	}
	b, err := json.Marshal(w)
	if err != nil || len(e.Extra) == 0 {
		return b, err
	}
	// Merge Extra back in so unknown keys survive a round-trip.
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// knownKeys lists every key wireFields understands, used to split unknown
// keys into Extra on Unmarshal.
var knownKeys = map[string]bool{
	"to": true, "reply-to": true, "trigger": true, "prompt": true,
	"frontend": true, "server": true, "channel": true, "user": true,
	"channel_name": true, "server_name": true, "user_name": true,
	"origin_message": true, "image_url": true,
	"reply-text": true, "reply-image": true, "reply-none": true,
	"error": true, "usage": true,
}

// Unmarshal decodes the flat wire JSON form into the envelope.
func (e *Envelope) Unmarshal(data []byte) error {
	var w wireFields
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Envelope{
		To:            w.To,
		ReplyTo:       w.ReplyTo,
		Trigger:       w.Trigger,
		Prompt:        w.Prompt,
		Frontend:      w.Frontend,
		Server:        w.Server,
		Channel:       w.Channel,
		User:          w.User,
		ChannelName:   w.ChannelName,
		ServerName:    w.ServerName,
		UserName:      w.UserName,
		OriginMessage: w.OriginMessage,
		ImageURL:      w.ImageURL,
	}
	switch {
	case w.ReplyText != nil:
		e.Reply = Reply{Kind: ReplyText, Text: *w.ReplyText}
	case w.ReplyImage != nil:
		e.Reply = Reply{Kind: ReplyImage, Image: *w.ReplyImage}
	case w.ReplyNone != nil:
		e.Reply = Reply{Kind: ReplyPending, Text: *w.ReplyNone}
	case w.Error != nil:
		e.Reply = Reply{Kind: ReplyError, Error: *w.Error}
	case w.Usage != nil:
		e.Reply = Reply{Kind: ReplyUsage, Usage: *w.Usage}
	default:
		e.Reply = Reply{Kind: ReplyNone}
	}
	for k, v := range raw {
		if !knownKeys[k] {
			if e.Extra == nil {
				e.Extra = map[string]json.RawMessage{}
			}
			e.Extra[k] = v
		}
	}
	return nil
}

// Redacted returns a shallow copy suitable for logging: reply-image bytes
// are replaced with a placeholder so binary blobs never hit the log
// stream, mirroring the original CLI's callback_send_workload redaction.
func (e *Envelope) Redacted() Envelope {
	cp := *e
	if cp.Reply.Kind == ReplyImage {
		cp.Reply.Image = []byte("** IMAGE **")
	}
	return cp
}

// SwapForReply returns a copy of e with To and ReplyTo swapped, so a
// backend's reply automatically routes back to the originating frontend
// without either side naming the other explicitly.
func (e *Envelope) SwapForReply() Envelope {
	cp := *e
	cp.To, cp.ReplyTo = e.ReplyTo, e.To
	return cp
}
