// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the one JSON-shaped-but-YAML-encoded document
// every launcher reads (§6's Config table), grounded on the teacher's
// sillybot.Config.LoadOrDefault.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfig is written to disk the first time a launcher is pointed
// at a config path that doesn't exist yet.
//
//go:embed default_config.yml
var DefaultConfig []byte

// GPT is the LLM backend's provider stanza (§6: "gpt.{api_key,
// organization, model}").
type GPT struct {
	APIKey       string   `yaml:"api_key"`
	Organization string   `yaml:"organization"`
	Model        string   `yaml:"model"`
	Models       []string `yaml:"models"`
}

// ImageModel is one entry of the image service's models table: an opaque
// payload template merged with the user's prompt before POSTing (§4.6).
type ImageModel struct {
	Payload map[string]interface{} `yaml:"payload"`
}

// ImageService is the image backend's connection stanza (§6:
// "image-service {host, port} and optional models table").
type ImageService struct {
	Host         string                `yaml:"host"`
	Port         int                   `yaml:"port"`
	PushPath     string                `yaml:"push_path"`
	DefaultModel string                `yaml:"default_model"`
	Models       map[string]ImageModel `yaml:"models"`
}

// Config is the Go-native rendering of §6's Config JSON table. Every
// launcher decodes the same file and reads only the stanzas it needs.
type Config struct {
	NatsURI string `yaml:"nats_uri"`

	// Triggers lists the trigger phrases; TriggerMap routes each trigger
	// phrase to a backend address and is what the frontends dispatch on
	// (§3, §6).
	Triggers   []string          `yaml:"triggers,omitempty"`
	TriggerMap map[string]string `yaml:"trigger_map,omitempty"`
	OutputDir  string            `yaml:"output_dir"`
	URIBase    string            `yaml:"uri_base"`

	IRC struct {
		Servers []IRCServer `yaml:"servers"`
	} `yaml:"irc"`

	Discord struct {
		Token string `yaml:"token"`
	} `yaml:"discord"`

	Slack struct {
		BotToken string `yaml:"bot_token"`
		AppToken string `yaml:"app_token"`
	} `yaml:"slack"`

	GPT          GPT          `yaml:"gpt"`
	ImageService ImageService `yaml:"image_service"`
}

// IRCServer is one configured IRC network connection (§4.4).
type IRCServer struct {
	Address  string   `yaml:"address"`
	Nick     string   `yaml:"nick"`
	Channels []string `yaml:"channels"`
}

// LoadOrDefault loads path, writing DefaultConfig to it first if it
// doesn't exist yet, exactly as teacher's Config.LoadOrDefault does.
func (c *Config) LoadOrDefault(path string) error {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err = os.WriteFile(path, DefaultConfig, 0o644); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		b = DefaultConfig
	} else if err != nil {
		return fmt.Errorf("failed to read %q: %w", path, err)
	}
	d := yaml.NewDecoder(bytes.NewReader(b))
	d.KnownFields(true)
	if err = d.Decode(c); err != nil {
		return fmt.Errorf("failed to parse %q: %w", path, err)
	}
	if c.NatsURI == "" {
		return fmt.Errorf("nats_uri not provided in %q", path)
	}
	return nil
}
