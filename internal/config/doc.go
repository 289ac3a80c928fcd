// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for companion.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation, and live reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - BackendConfig: Chat, thread and health endpoints
//   - VoiceConfig: Voice selection, auto speak and player command
//   - Watcher: fsnotify-based reload of the config file
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (COMPANION_*)
//   - ~/.companion/config.toml (COMPANION_HOME moves the directory)
//   - ~/.companion/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gw := gateway.New(gateway.Endpoints{ChatURL: cfg.ChatURL(), HealthURL: cfg.HealthURL()}, gateway.Options{})
package config
