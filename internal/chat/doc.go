// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat routes chat requests to the provider serving the
// requested model, builds the shared prompt (system message plus a
// bounded history window), and silently downgrades stream requests for
// models whose provider cannot stream.
package chat
