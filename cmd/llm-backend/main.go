// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// llm-backend is the C8 synchronous LLM backend launcher.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cmsj/dreambot-go/internal/bus"
	"github.com/cmsj/dreambot-go/internal/climain"
	"github.com/cmsj/dreambot-go/internal/llmbackend"
	"github.com/cmsj/dreambot-go/internal/worker"
)

func mainImpl() error {
	_, cfg, err := climain.Parse("llm-backend")
	if err != nil {
		return err
	}
	if cfg.GPT.APIKey == "" {
		return fmt.Errorf("llm-backend: gpt.api_key is required in the config")
	}

	ctx, stop := climain.Context()
	defer stop()

	mgr, err := bus.Dial(cfg.NatsURI, func(err error) {
		slog.Error("llm-backend", "error", err, "msg", "fatal bus error, stopping")
		stop()
	})
	if err != nil {
		return fmt.Errorf("llm-backend: %w", err)
	}

	backCfg := llmbackend.Config{
		APIBase: "https://api.openai.com",
		APIKey:  cfg.GPT.APIKey,
		Org:     cfg.GPT.Organization,
		Model:   cfg.GPT.Model,
		Models:  cfg.GPT.Models,
	}
	back := llmbackend.New(backCfg, nil)
	mgr.Register(worker.Backend, "llm", "", back)

	if err := mgr.Boot(ctx); err != nil {
		return fmt.Errorf("llm-backend: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), climain.ShutdownGrace)
	defer cancel()
	return mgr.Shutdown(shutdownCtx)
}

func main() {
	climain.Fatal("llm-backend", mainImpl())
}
