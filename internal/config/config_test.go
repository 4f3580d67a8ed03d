// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrDefaultWritesDefault(t *testing.T) {
	cfg := Config{}
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := cfg.LoadOrDefault(path); err != nil {
		t.Fatal(err)
	}
	if cfg.NatsURI == "" {
		t.Fatal("expected nats_uri to be populated from the default config")
	}
	if len(cfg.GPT.Models) == 0 {
		t.Fatal("expected gpt.models to be populated from the default config")
	}
	if cfg.ImageService.Models["sd15"].Payload["model"] != "stable-diffusion-1.5" {
		t.Fatalf("got %+v", cfg.ImageService.Models["sd15"])
	}
}

func TestLoadOrDefaultRejectsUnknownFields(t *testing.T) {
	cfg := Config{}
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("nats_uri: \"nats://x\"\nbogus_field: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cfg.LoadOrDefault(path); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestLoadOrDefaultMissingNatsURI(t *testing.T) {
	cfg := Config{}
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("output_dir: \"./x\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cfg.LoadOrDefault(path); err == nil {
		t.Fatal("expected an error for a missing nats_uri")
	}
}
