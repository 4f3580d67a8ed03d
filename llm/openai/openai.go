// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package openai is a blocking client for an OpenAI-compatible chat
// completions endpoint, used by the synchronous LLM backend (see
// internal/llmbackend). Adapted from the teacher's llama.cpp client: same
// request/response shapes, generalized to carry an API key and
// organization header, with the teacher's token-by-token streaming path
// dropped since this backend always waits for one full reply, and with
// the provider's structured error body surfaced instead of a flat string
// so the caller can classify it.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cmsj/dreambot-go/llm/common"
)

// chatCompletionRequest is documented at
// https://platform.openai.com/docs/api-reference/chat/create
type chatCompletionRequest struct {
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Messages    []common.Message `json:"messages"`
	Seed        int              `json:"seed,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

// chatCompletionsResponse is documented at
// https://platform.openai.com/docs/api-reference/chat/object
type chatCompletionsResponse struct {
	Choices []choices `json:"choices"`
	Created int64     `json:"created"`
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Object  string    `json:"object"`
	Usage   struct {
		CompletionTokens int64 `json:"completion_tokens"`
		PromptTokens     int64 `json:"prompt_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

// apiError is the shape OpenAI (and most of its compatible providers) use
// to report a failed request; Type carries values such as
// "invalid_request_error", "insufficient_quota" and "rate_limit_error".
// internal/llmbackend classifies failures by HTTP status, not by Type.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type choices struct {
	// FinishReason is one of "stop", "length", "content_filter" or "tool_calls".
	FinishReason string         `json:"finish_reason"`
	Index        int            `json:"index"`
	Message      common.Message `json:"message"`
}

// Client is a minimal OpenAI-compatible chat completions client.
type Client struct {
	BaseURL string
	APIKey  string
	Org     string
	Model   string
}

// APIError wraps a failed completion call with enough of the provider's
// error shape for internal/llmbackend to classify it into a stable
// category instead of showing the raw provider message to chat users.
type APIError struct {
	// HTTPStatus is the response's status code; it is 2xx when the
	// provider reported the error only in the response body.
	HTTPStatus int
	Message    string
	Code       string
	Type       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("openai: http %d", e.HTTPStatus)
}

// PromptBlocking sends the full conversation and waits for one complete
// reply, the only mode the synchronous LLM backend needs.
func (c *Client) PromptBlocking(ctx context.Context, msgs []common.Message, maxTokens, seed int, temperature float64) (string, error) {
	data := chatCompletionRequest{
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Messages:    msgs,
		Seed:        seed,
		Temperature: temperature,
	}
	b := bytes.Buffer{}
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/chat/completions", &b)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if c.Org != "" {
		req.Header.Set("OpenAI-Organization", c.Org)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()
	msg := chatCompletionsResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		if resp.StatusCode >= 400 {
			return "", &APIError{HTTPStatus: resp.StatusCode}
		}
		return "", fmt.Errorf("openai: decoding response: %w", err)
	}
	if msg.Error != nil {
		return "", &APIError{HTTPStatus: resp.StatusCode, Message: msg.Error.Message, Code: msg.Error.Code, Type: msg.Error.Type}
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{HTTPStatus: resp.StatusCode}
	}
	if len(msg.Choices) != 1 {
		return "", fmt.Errorf("openai: expected 1 choice, got %d", len(msg.Choices))
	}
	return msg.Choices[0].Message.Content, nil
}
