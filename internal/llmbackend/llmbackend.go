// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package llmbackend implements the C8 synchronous backend: each request
// calls a remote OpenAI-compatible completion API and replies with text,
// maintaining a rolling per-conversation context cache. Grounded on the
// original's gpt.py (cache key shape, error taxonomy, system prompt).
package llmbackend

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/promptargs"
	"github.com/cmsj/dreambot-go/internal/worker"
	"github.com/cmsj/dreambot-go/llm"
	"github.com/cmsj/dreambot-go/llm/common"
	"github.com/cmsj/dreambot-go/llm/openai"
)

// systemPrompt seeds every new conversation, carried over verbatim from
// the original's reset_cache.
const systemPrompt = "You are a helpful assistant. Make your answers as brief as possible."

// maxTokens, seed and temperature are fixed request parameters; the
// original never exposed them as per-prompt flags either.
const (
	maxTokens   = 512
	seed        = 0
	temperature = 0.7
)

// Config is the LLM backend's provider configuration.
type Config struct {
	APIBase string
	APIKey  string
	Org     string
	Model   string
	// Models is the fixed allow-list --list-models reports, since the
	// provider's own model listing endpoint mixes in non-chat models
	// (§4.7).
	Models []string
}

// completer is the subset of openai.Client the backend needs; a seam so
// Receive is unit-testable against a fake completion endpoint.
type completer interface {
	PromptBlocking(ctx context.Context, msgs []common.Message, maxTokens, seed int, temperature float64) (string, error)
}

// Backend is the C8 LLM backend worker.
type Backend struct {
	worker.Base

	cfg    Config
	client completer
	memory llm.Memory
}

// New creates an LLM backend. client is injectable so tests can supply a
// fake completer; pass nil to use the real openai.Client.
func New(cfg Config, client completer) *Backend {
	b := &Backend{cfg: cfg}
	if client != nil {
		b.client = client
	} else {
		b.client = &openai.Client{BaseURL: cfg.APIBase, APIKey: cfg.APIKey, Org: cfg.Org, Model: cfg.Model}
	}
	return b
}

// Boot implements worker.Worker. The LLM backend holds no persistent
// connection of its own; it's ready as soon as it's constructed.
func (b *Backend) Boot(ctx context.Context) error {
	b.SetBooted(true)
	<-ctx.Done()
	return nil
}

// Shutdown implements worker.Worker.
func (b *Backend) Shutdown(ctx context.Context) error { return nil }

type args struct {
	followup   bool
	listModels bool
}

func parseArgs(prompt string) (args, string, error) {
	a := args{}
	p := promptargs.New("llm")
	p.FlagSet().BoolVar(&a.followup, "followup", false, "Continue the existing conversation instead of starting a new one")
	p.FlagSet().BoolVar(&a.listModels, "list-models", false, "List available models")
	remainder, err := p.Parse(prompt)
	return a, remainder, err
}

// Receive implements worker.Worker per §4.7's algorithm.
func (b *Backend) Receive(ctx context.Context, subject string, e *envelope.Envelope) bool {
	a, remainder, err := parseArgs(e.Prompt)
	if err != nil {
		return b.replyError(ctx, e, err)
	}
	if a.listModels {
		reply := *e
		reply.Reply = envelope.Reply{Kind: envelope.ReplyText, Text: "Available models: " + strings.Join(b.cfg.Models, ", ")}
		return b.sendAck(ctx, &reply)
	}

	conv := b.memory.Get(e.ReplyTo, e.Channel, e.User, systemPrompt, !a.followup)
	conv.Messages = append(conv.Messages, common.Message{Role: common.User, Content: remainder})

	reply, err := b.client.PromptBlocking(ctx, conv.Messages, maxTokens, seed, temperature)
	if err != nil {
		return b.replyError(ctx, e, err)
	}
	conv.Messages = append(conv.Messages, common.Message{Role: common.Assistant, Content: reply})
	b.memory.TrimTurns(conv)

	out := *e
	out.Reply = envelope.Reply{Kind: envelope.ReplyText, Text: reply}
	return b.sendAck(ctx, &out)
}

// classifyError maps a provider *openai.APIError, by HTTP status, to one of
// three stable categories (service unavailable, rate-limit/auth, invalid
// request), grounded on the original's gpt.py exception taxonomy. Any other
// error (a transport failure or timeout, an undecodable response) gets a
// generic "Unknown error" reply.
func classifyError(err error) string {
	apiErr, ok := err.(*openai.APIError)
	if !ok {
		return "Unknown error, ask your bot admin to check logs."
	}
	switch apiErr.HTTPStatus {
	case 429, 401, 403:
		return "GPT service error, ask your bot admin to check logs."
	case 400, 404, 422:
		return "GPT request error, ask your bot admin to check logs."
	default:
		return "GPT service unavailable, try again."
	}
}

func (b *Backend) replyError(ctx context.Context, e *envelope.Envelope, err error) bool {
	reply := *e
	switch v := err.(type) {
	case *promptargs.UsageError:
		reply.Reply = envelope.Reply{Kind: envelope.ReplyUsage, Usage: v.Usage}
	case *promptargs.ArgError:
		reply.Reply = envelope.Reply{Kind: envelope.ReplyError, Error: v.Error()}
	default:
		slog.Error("llmbackend", "error", err)
		reply.Reply = envelope.Reply{Kind: envelope.ReplyError, Error: classifyError(err)}
	}
	return b.sendAck(ctx, &reply)
}

// sendAck clears To so worker.Base.Send's auto-swap routes the reply back
// to the envelope's ReplyTo, then publishes it.
func (b *Backend) sendAck(ctx context.Context, e *envelope.Envelope) bool {
	out := *e
	out.To = ""
	if err := b.Send(ctx, &out); err != nil {
		slog.Error("llmbackend", "error", err, "msg", "failed to send reply")
	}
	return true
}
