// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the upstream chat adapters.
//
// Two adapter families exist behind the common Adapter interface:
//
//   - Direct: an OpenAI-compatible completion endpoint. Supports both
//     one-shot completion and incremental SSE streaming.
//   - Minitool: a scraped web provider reached through a multi-step
//     browser-shaped handshake (anti-bot token, page token scrape,
//     stream token exchange, transcript fetch). Never streams; the
//     full transcript is fetched and the final text extracted.
//
// Adapters are plain structs configured at construction. All blocking
// calls take a context.Context.
package provider
