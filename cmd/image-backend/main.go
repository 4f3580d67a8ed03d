// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// image-backend is the C7 image-generation backend launcher.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cmsj/dreambot-go/internal/bus"
	"github.com/cmsj/dreambot-go/internal/climain"
	"github.com/cmsj/dreambot-go/internal/imagebackend"
	"github.com/cmsj/dreambot-go/internal/worker"
)

func mainImpl() error {
	_, cfg, err := climain.Parse("image-backend")
	if err != nil {
		return err
	}
	svc := cfg.ImageService
	if svc.Host == "" {
		return fmt.Errorf("image-backend: image_service.host is required in the config")
	}

	ctx, stop := climain.Context()
	defer stop()

	mgr, err := bus.Dial(cfg.NatsURI, func(err error) {
		slog.Error("image-backend", "error", err, "msg", "fatal bus error, stopping")
		stop()
	})
	if err != nil {
		return fmt.Errorf("image-backend: %w", err)
	}

	models := make(map[string]imagebackend.ModelConfig, len(svc.Models))
	for name, m := range svc.Models {
		models[name] = imagebackend.ModelConfig{Payload: m.Payload}
	}
	backCfg := imagebackend.Config{
		APIBase:      fmt.Sprintf("http://%s:%d/api/v1", svc.Host, svc.Port),
		PushURL:      fmt.Sprintf("ws://%s:%d%s", svc.Host, svc.Port, svc.PushPath),
		Models:       models,
		DefaultModel: svc.DefaultModel,
	}
	back := imagebackend.New(backCfg, nil)
	mgr.Register(worker.Backend, "image", "", back)

	if err := mgr.Boot(ctx); err != nil {
		return fmt.Errorf("image-backend: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), climain.ShutdownGrace)
	defer cancel()
	return mgr.Shutdown(shutdownCtx)
}

func main() {
	climain.Fatal("image-backend", mainImpl())
}
