// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides shared helpers for termchat: crash-safe atomic
// file writes and Unicode-aware string truncation.
package util
