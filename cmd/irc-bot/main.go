// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// irc-bot is the C5 IRC frontend launcher: it registers one irc.Frontend
// per configured server (§4.4) and runs until signalled.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cmsj/dreambot-go/internal/bus"
	"github.com/cmsj/dreambot-go/internal/climain"
	"github.com/cmsj/dreambot-go/internal/irc"
	"github.com/cmsj/dreambot-go/internal/worker"
)

func mainImpl() error {
	_, cfg, err := climain.Parse("irc-bot")
	if err != nil {
		return err
	}
	if len(cfg.IRC.Servers) == 0 {
		return fmt.Errorf("irc-bot: at least one irc.servers entry is required in the config")
	}

	ctx, stop := climain.Context()
	defer stop()

	mgr, err := bus.Dial(cfg.NatsURI, func(err error) {
		slog.Error("irc-bot", "error", err, "msg", "fatal bus error, stopping")
		stop()
	})
	if err != nil {
		return fmt.Errorf("irc-bot: %w", err)
	}

	// One Frontend per configured server; address-namespaced by the
	// server's host so each gets a distinct durable consumer (§6).
	for _, srv := range cfg.IRC.Servers {
		host, port, ssl := splitAddress(srv.Address)
		ircCfg := irc.Config{
			Nickname: srv.Nick,
			Ident:    srv.Nick,
			Realname: srv.Nick,
			Host:     host,
			Port:     port,
			SSL:      ssl,
			Channels: srv.Channels,
		}
		front := irc.New(ircCfg, cfg.TriggerMap, cfg.OutputDir, cfg.URIBase)
		mgr.Register(worker.Frontend, "irc", host, front)
	}

	if err := mgr.Boot(ctx); err != nil {
		return fmt.Errorf("irc-bot: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), climain.ShutdownGrace)
	defer cancel()
	return mgr.Shutdown(shutdownCtx)
}

// splitAddress parses a "host:port" config entry into its parts. The port
// defaults to 6667 when it is absent or not numeric; TLS is enabled when the
// port is one of IRC's common TLS ports (6697/7000).
func splitAddress(addr string) (host string, port int, ssl bool) {
	host = addr
	port = 6667
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host = addr[:i]
			p := 0
			for _, c := range addr[i+1:] {
				if c < '0' || c > '9' {
					p = 0
					break
				}
				p = p*10 + int(c-'0')
			}
			if p != 0 {
				port = p
			}
			break
		}
	}
	ssl = port == 6697 || port == 7000
	return host, port, ssl
}

func main() {
	climain.Fatal("irc-bot", mainImpl())
}
