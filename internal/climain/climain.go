// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package climain is the common bootstrap every cmd/ launcher shares:
// flag parsing, logging setup, SIGHUP level toggling and signal-driven
// cancellation. Grounded on the original's shared/cli.py DreambotCLI,
// which every Python frontend/backend process instantiated identically.
package climain

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmsj/dreambot-go/internal/ambient"
	"github.com/cmsj/dreambot-go/internal/config"
)

// quietLevel silences everything below it, the Go stand-in for the
// original's logging.CRITICAL (slog has no named level that high).
const quietLevel = slog.Level(12)

// ShutdownGrace bounds how long Manager.Shutdown gets to drain in-flight
// work once a cmd/ launcher's context is cancelled.
const ShutdownGrace = 10 * time.Second

// Flags is the CLI surface every launcher exposes (§6): one required
// config path plus the two verbosity switches.
type Flags struct {
	Config string
	Debug  bool
	Quiet  bool
}

// Parse registers and parses the shared flag set for program name, then
// loads the config it points at.
func Parse(program string) (Flags, *config.Config, error) {
	f := Flags{}
	flag.StringVar(&f.Config, "config", "", "Path to the YAML config file (required)")
	flag.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&f.Quiet, "quiet", false, "Disable most logging")
	flag.Parse()
	if f.Config == "" {
		return f, nil, errors.New("-config is required")
	}

	ambient.InitLog(&ambient.Level)
	switch {
	case f.Debug:
		ambient.Level.Set(slog.LevelDebug)
	case f.Quiet:
		ambient.Level.Set(quietLevel)
	default:
		ambient.Level.Set(slog.LevelInfo)
	}

	cfg := &config.Config{}
	if err := cfg.LoadOrDefault(f.Config); err != nil {
		return f, nil, fmt.Errorf("%s: %w", program, err)
	}
	return f, cfg, nil
}

// Context returns a context cancelled on SIGINT/SIGTERM, and starts a
// goroutine that toggles the shared debug level on every SIGHUP until ctx
// is done — the Go equivalent of the original's per-process
// loop.add_signal_handler(SIGHUP, toggle_debug).
func Context() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(hup)
				return
			case <-hup:
				ambient.ToggleDebug()
			}
		}
	}()
	return ctx, cancel
}

// Fatal prints err to stderr prefixed with program and exits 1, unless
// err is context.Canceled (a clean shutdown), in which case it exits 0.
func Fatal(program string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", program, err)
	os.Exit(1)
}
