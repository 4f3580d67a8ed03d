// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// slack-bot is the C6 Slack frontend launcher: it registers one
// slackfrontend.Frontend on the bus and runs until signalled.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cmsj/dreambot-go/internal/bus"
	"github.com/cmsj/dreambot-go/internal/climain"
	"github.com/cmsj/dreambot-go/internal/slackfrontend"
	"github.com/cmsj/dreambot-go/internal/worker"
)

func mainImpl() error {
	_, cfg, err := climain.Parse("slack-bot")
	if err != nil {
		return err
	}
	if cfg.Slack.BotToken == "" || cfg.Slack.AppToken == "" {
		return fmt.Errorf("slack-bot: slack.bot_token and slack.app_token are required in the config")
	}

	ctx, stop := climain.Context()
	defer stop()

	mgr, err := bus.Dial(cfg.NatsURI, func(err error) {
		slog.Error("slack-bot", "error", err, "msg", "fatal bus error, stopping")
		stop()
	})
	if err != nil {
		return fmt.Errorf("slack-bot: %w", err)
	}

	front := slackfrontend.New(slackfrontend.Config{BotToken: cfg.Slack.BotToken, AppToken: cfg.Slack.AppToken}, cfg.TriggerMap)
	mgr.Register(worker.Frontend, "slack", "", front)

	if err := mgr.Boot(ctx); err != nil {
		return fmt.Errorf("slack-bot: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), climain.ShutdownGrace)
	defer cancel()
	return mgr.Shutdown(shutdownCtx)
}

func main() {
	climain.Fatal("slack-bot", mainImpl())
}
