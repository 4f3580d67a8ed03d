// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// discord-bot is the C6 Discord frontend launcher: it registers one
// discordfrontend.Frontend on the bus and runs until signalled.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cmsj/dreambot-go/internal/bus"
	"github.com/cmsj/dreambot-go/internal/climain"
	"github.com/cmsj/dreambot-go/internal/discordfrontend"
	"github.com/cmsj/dreambot-go/internal/worker"
)

func mainImpl() error {
	_, cfg, err := climain.Parse("discord-bot")
	if err != nil {
		return err
	}
	if cfg.Discord.Token == "" {
		return fmt.Errorf("discord-bot: discord.token is required in the config")
	}

	ctx, stop := climain.Context()
	defer stop()

	mgr, err := bus.Dial(cfg.NatsURI, func(err error) {
		slog.Error("discord-bot", "error", err, "msg", "fatal bus error, stopping")
		stop()
	})
	if err != nil {
		return fmt.Errorf("discord-bot: %w", err)
	}

	front := discordfrontend.New(discordfrontend.Config{Token: cfg.Discord.Token}, cfg.TriggerMap)
	mgr.Register(worker.Frontend, "discord", "", front)

	if err := mgr.Boot(ctx); err != nil {
		return fmt.Errorf("discord-bot: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), climain.ShutdownGrace)
	defer cancel()
	return mgr.Shutdown(shutdownCtx)
}

func main() {
	climain.Fatal("discord-bot", mainImpl())
}
