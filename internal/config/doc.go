// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigchat.
//
// Supports both TOML and JSON configuration formats, with defaults, .env
// files, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - BackendConfig: Pipeline backend URL and credentials
//   - StorageConfig: Where conversations are persisted
//   - KBCacheConfig: Knowledge-base listing cache
//   - EnvOverrides: RIGCHAT_* environment variables
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGCHAT_*), including those set by ./.env
//   - ~/.rigchat/config.toml
//   - ~/.rigchat/config.json
//   - Built-in defaults
//
// RIGCHAT_HOME relocates ~/.rigchat.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := pipeline.NewClient(cfg.Backend.URL).WithReadTimeout(cfg.ReadTimeout())
package config
