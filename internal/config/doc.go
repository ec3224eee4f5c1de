// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management
// for termchat.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.termchat/config.toml
//   - ~/.termchat/config.json
//   - Built-in defaults
//
// TERMCHAT_* environment variables override file values; see
// ApplyEnvOverrides. A running server can pick up edits via Watch.
package config
